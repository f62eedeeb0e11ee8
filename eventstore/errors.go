package eventstore

import (
	"errors"
	"fmt"
	"strings"
)

// Construction errors.
var (
	ErrEmptyEventID          = errors.New("empty event id supplied")
	ErrEmptyEventType        = errors.New("empty event type supplied")
	ErrInvalidPayloadJSON    = errors.New("payload json is not valid")
	ErrNoEventsToAppend      = errors.New("no events to append supplied")
	ErrEmptyEventsTableName  = errors.New("empty events table name supplied")
	ErrNilDatabaseConnection = errors.New("nil database connection supplied")
)

// Operation errors. The four kinds a caller must be able to tell apart are
// ErrConditionViolated (re-read and re-decide), ErrSerializationConflict
// (transient, retried a bounded number of times inside Append before being
// surfaced), ErrDuplicateEventID (identity constraint) and the transport
// sentinels below (fatal to the current call). Engines join the sentinel
// with the underlying cause via errors.Join; match with errors.Is.
var (
	ErrConditionViolated     = errors.New("append condition violated: conflicting events exist beyond the observed position")
	ErrSerializationConflict = errors.New("transaction serialization conflict")
	ErrDuplicateEventID      = errors.New("an event with this id already exists")

	ErrBuildingQueryFailed     = errors.New("building query failed")
	ErrBeginningTxFailed       = errors.New("beginning transaction failed")
	ErrCommittingTxFailed      = errors.New("committing transaction failed")
	ErrQueryingEventsFailed    = errors.New("querying events failed")
	ErrAppendingEventsFailed   = errors.New("appending events failed")
	ErrScanningDBRowFailed     = errors.New("scanning database row failed")
	ErrUnexpectedRowsAffected  = errors.New("unexpected number of rows affected")
	ErrGettingRowsAffectedFail = errors.New("getting rows affected count failed")
)

// ConditionViolatedError is the rejection signaled when a conditional append
// finds an event matching the watched criteria beyond the observed position.
// It carries the violated condition and the ids of the conflicting events
// for diagnostics; callers recover by re-reading and re-deciding, matched
// via errors.Is(err, ErrConditionViolated) or errors.As.
type ConditionViolatedError struct {
	ViolatedCriteria Criteria
	After            Position
	EventIDs         []string
}

func (e *ConditionViolatedError) Error() string {
	return fmt.Sprintf(
		"%s (types: [%s], tags: [%s], after: %d, conflicting events: [%s])",
		ErrConditionViolated.Error(),
		strings.Join(e.ViolatedCriteria.Types(), ", "),
		strings.Join(e.ViolatedCriteria.Tags(), ", "),
		e.After,
		strings.Join(e.EventIDs, ", "),
	)
}

func (e *ConditionViolatedError) Unwrap() error {
	return ErrConditionViolated
}
