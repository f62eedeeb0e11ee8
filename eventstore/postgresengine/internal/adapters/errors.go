package adapters

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateUniqueViolation      = "23505"

	eventIDConstraintMarker = "event_id"
)

// ClassifyError maps a Postgres error onto the store's error taxonomy.
// It understands both pgx (pgconn.PgError) and lib/pq (pq.Error) shapes,
// so classification works the same through all three adapters.
//
// Returns one of the eventstore sentinels and true when the error is a
// recognized kind, or (nil, false) for plain transport/query failures.
//
// A unique violation on the event id constraint is a duplicate identity;
// a unique violation on any other constraint (the position primary key,
// hit when MAX+1 position assignment races) is treated as a serialization
// conflict, since retrying resolves it.
func ClassifyError(err error) (error, bool) {
	if code, constraint, ok := sqlState(err); ok {
		switch code {
		case sqlstateSerializationFailure, sqlstateDeadlockDetected:
			return eventstore.ErrSerializationConflict, true

		case sqlstateUniqueViolation:
			if strings.Contains(constraint, eventIDConstraintMarker) {
				return eventstore.ErrDuplicateEventID, true
			}

			return eventstore.ErrSerializationConflict, true
		}
	}

	return nil, false
}

func sqlState(err error) (code string, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}

	return "", "", false
}
