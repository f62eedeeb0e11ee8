// Package sqliteengine provides a SQLite implementation of the tagged
// event store on top of database/sql with the mattn/go-sqlite3 driver.
//
// SQLite has no jsonb containment operator, so tags are matched through
// a side table with one row per (position, tag) pair and one correlated
// EXISTS subquery per queried tag. Appends rely on immediate
// transactions (see DSN) for write serialization.
package sqliteengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	// SQLite dialect for goqu query building.
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	jsoniter "github.com/json-iterator/go"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

const (
	defaultEventsTableName = "events"
	defaultTagsTableName   = "event_tags"
	dialectSQLite          = "sqlite3"

	colPosition  = "position"
	colEventID   = "event_id"
	colEventType = "event_type"
	colPayload   = "payload"
	colTags      = "tags"
	colTag       = "tag"

	// maxAppendAttempts bounds the retry loop around busy/locked
	// conflicts. The attempt that fails last surfaces its error.
	maxAppendAttempts = 3
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DSN returns a connection string for the given database path with the
// settings the engine relies on: immediate write transactions, enforced
// foreign keys, and a busy timeout so concurrent writers queue instead
// of failing immediately.
func DSN(path string) string {
	return fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", path)
}

// InMemoryDSN returns a DSN for a shared in-memory database. Callers
// should limit the pool to a single connection, otherwise each pooled
// connection would still see the same shared database but transactions
// interleave more than tests usually want.
func InMemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_txlock=immediate&_foreign_keys=on&_busy_timeout=5000", name)
}

// EventStore implements the DCB event log on top of SQLite.
//
// Reads and conflict checks are scoped by the same compiled criteria
// predicate, and appends run inside a single immediate transaction so
// the condition check and the insert observe one consistent log state.
// Positions are assigned gaplessly inside that transaction.
type EventStore struct {
	db              *sql.DB
	compiler        Compiler
	eventsTableName string
	tagsTableName   string

	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

// NewEventStore creates an EventStore backed by a database/sql connection
// opened with the sqlite3 driver, see DSN for the expected settings.
func NewEventStore(db *sql.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	es := EventStore{
		db:              db,
		eventsTableName: defaultEventsTableName,
		tagsTableName:   defaultTagsTableName,
	}

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	es.compiler = NewCompiler(es.eventsTableName, es.tagsTableName)

	return es, nil
}

// Compiler returns the predicate compiler used by this engine, so callers
// can compile criteria into filters for inspection or custom tooling.
func (es EventStore) Compiler() eventstore.PredicateCompiler {
	return es.compiler
}

// CreateSchema creates the events and event_tags tables if they do not
// exist, using the table names this store is configured with.
func (es EventStore) CreateSchema(ctx context.Context) error {
	_, err := es.db.ExecContext(ctx, SchemaForTables(es.eventsTableName, es.tagsTableName))

	return err
}

// Read returns all events matching the criteria in ascending position order.
// Empty criteria match the whole log.
func (es EventStore) Read(ctx context.Context, criteria eventstore.Criteria) (eventstore.SequencedEvents, error) {
	return es.ReadAfter(ctx, criteria, 0)
}

// ReadAfter returns all events matching the criteria with a position
// strictly greater than afterPosition, in ascending position order.
// An afterPosition of 0 reads from the start of the log.
func (es EventStore) ReadAfter(
	ctx context.Context,
	criteria eventstore.Criteria,
	afterPosition eventstore.Position,
) (eventstore.SequencedEvents, error) {
	start := time.Now()
	spanStatus := statusError

	ctx, span := es.startSpan(ctx, spanNameRead, operationRead)
	defer func() { es.finishSpan(span, spanStatus) }()

	filter := es.compiler.Compile(criteria, afterPosition)

	query, args, err := es.buildReadQuery(filter)
	if err != nil {
		es.recordFailure(ctx, operationRead, errorTypeBuildQuery, start)

		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	es.logQuery(ctx, operationRead, query)

	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		es.recordFailure(ctx, operationRead, errorTypeDatabase, start)

		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	events, err := es.collectRows(rows)
	if err != nil {
		es.recordFailure(ctx, operationRead, errorTypeScan, start)

		return nil, err
	}

	spanStatus = statusSuccess

	es.recordSuccess(ctx, operationRead, start)
	es.logOperation(ctx, operationRead, len(events), time.Since(start))

	return events, nil
}

// Append atomically appends events to the log, guarded by the condition.
//
// When the condition carries criteria, the append is rejected with
// eventstore.ErrConditionViolated if any event matching those criteria
// exists at a position greater than the condition's cursor. The check and
// the insert run in one immediate transaction; on a busy/locked conflict
// the whole attempt is retried a bounded number of times before
// eventstore.ErrSerializationConflict is returned.
//
// Either all events are appended at consecutive positions or none are.
func (es EventStore) Append(
	ctx context.Context,
	condition eventstore.AppendCondition,
	events ...eventstore.Event,
) (eventstore.SequencedEvents, error) {
	if len(events) == 0 {
		return nil, eventstore.ErrNoEventsToAppend
	}

	start := time.Now()
	spanStatus := statusError

	ctx, span := es.startSpan(ctx, spanNameAppend, operationAppend)
	defer func() { es.finishSpan(span, spanStatus) }()

	var appended eventstore.SequencedEvents
	var err error

	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		appended, err = es.appendOnce(ctx, condition, events)
		if err == nil {
			spanStatus = statusSuccess

			es.recordSuccess(ctx, operationAppend, start)
			es.logOperation(ctx, operationAppend, len(appended), time.Since(start))

			return appended, nil
		}

		if !errors.Is(err, eventstore.ErrSerializationConflict) {
			break
		}

		es.incrementCounter(ctx, metricSerializationConflicts, map[string]string{labelOperation: operationAppend})
		es.logDebug(ctx, fmt.Sprintf("append conflict, attempt %d of %d", attempt, maxAppendAttempts))
	}

	switch {
	case errors.Is(err, eventstore.ErrConditionViolated):
		spanStatus = statusCanceled

		es.incrementCounter(ctx, metricConditionViolations, map[string]string{labelOperation: operationAppend})
		es.recordCanceled(ctx, operationAppend, start)

	default:
		es.recordFailure(ctx, operationAppend, errorTypeDatabase, start)
	}

	return nil, err
}

func (es EventStore) appendOnce(
	ctx context.Context,
	condition eventstore.AppendCondition,
	events eventstore.Events,
) (eventstore.SequencedEvents, error) {
	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		if classified, ok := classifyError(err); ok {
			return nil, errors.Join(classified, err)
		}

		return nil, errors.Join(eventstore.ErrBeginningTxFailed, err)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			es.logWarn(ctx, fmt.Sprintf("rolling back append transaction failed: %s", rollbackErr))
		}
	}()

	if err := es.checkAppendCondition(ctx, tx, condition); err != nil {
		return nil, err
	}

	currentMax, err := es.currentMaxPosition(ctx, tx)
	if err != nil {
		return nil, err
	}

	appended, err := es.insertEvents(ctx, tx, currentMax, events)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		if classified, ok := classifyError(err); ok {
			return nil, errors.Join(classified, err)
		}

		return nil, errors.Join(eventstore.ErrCommittingTxFailed, err)
	}

	committed = true

	return appended, nil
}

// checkAppendCondition probes for a conflicting event inside the append
// transaction. An empty condition never conflicts.
func (es EventStore) checkAppendCondition(ctx context.Context, tx *sql.Tx, condition eventstore.AppendCondition) error {
	if condition.IsEmpty() {
		return nil
	}

	filter := es.compiler.Compile(condition.Criteria(), condition.After())

	query, args, err := es.buildConflictProbeQuery(filter)
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	es.logQuery(ctx, operationAppend, query)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		if classified, ok := classifyError(err); ok {
			return errors.Join(classified, err)
		}

		return errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	conflicting, err := es.collectConflictingIDs(rows)
	if err != nil {
		return err
	}

	if len(conflicting) > 0 {
		return &eventstore.ConditionViolatedError{
			ViolatedCriteria: condition.Criteria(),
			After:            condition.After(),
			EventIDs:         conflicting,
		}
	}

	return nil
}

func (es EventStore) currentMaxPosition(ctx context.Context, tx *sql.Tx) (uint64, error) {
	query, args, err := goqu.Dialect(dialectSQLite).
		From(es.eventsTableName).
		Select(goqu.COALESCE(goqu.MAX(colPosition), 0)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	var maxPosition int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&maxPosition); err != nil {
		if classified, ok := classifyError(err); ok {
			return 0, errors.Join(classified, err)
		}

		return 0, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	return uint64(maxPosition), nil
}

func (es EventStore) insertEvents(
	ctx context.Context,
	tx *sql.Tx,
	currentMax uint64,
	events eventstore.Events,
) (eventstore.SequencedEvents, error) {
	appended := make(eventstore.SequencedEvents, 0, len(events))

	eventsInsert := goqu.Dialect(dialectSQLite).
		Insert(es.eventsTableName).
		Cols(colPosition, colEventID, colEventType, colPayload, colTags)

	tagsInsert := goqu.Dialect(dialectSQLite).
		Insert(es.tagsTableName).
		Cols(colPosition, colTag)

	tagRowCount := 0

	for idx, event := range events {
		position := currentMax + uint64(idx) + 1

		tags := event.Tags
		if tags == nil {
			tags = []string{} // store "[]", not "null"
		}

		tagsJSON, marshalErr := json.Marshal(tags)
		if marshalErr != nil {
			return nil, errors.Join(eventstore.ErrBuildingQueryFailed, marshalErr)
		}

		eventsInsert = eventsInsert.Vals(goqu.Vals{
			int64(position),
			event.ID,
			event.EventType,
			string(event.PayloadJSON),
			string(tagsJSON),
		})

		for _, tag := range event.Tags {
			tagsInsert = tagsInsert.Vals(goqu.Vals{int64(position), tag})
			tagRowCount++
		}

		appended = append(appended, eventstore.SequencedEvent{Event: event, Position: position})
	}

	if err := es.execInsert(ctx, tx, eventsInsert, int64(len(events)), eventstore.ErrAppendingEventsFailed); err != nil {
		return nil, err
	}

	if tagRowCount > 0 {
		if err := es.execInsert(ctx, tx, tagsInsert, int64(tagRowCount), eventstore.ErrAppendingEventsFailed); err != nil {
			return nil, err
		}
	}

	return appended, nil
}

func (es EventStore) execInsert(
	ctx context.Context,
	tx *sql.Tx,
	insert *goqu.InsertDataset,
	expectedRows int64,
	sentinel error,
) error {
	query, args, err := insert.Prepared(true).ToSQL()
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	es.logQuery(ctx, operationAppend, query)

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		if classified, ok := classifyError(err); ok {
			return errors.Join(classified, err)
		}

		return errors.Join(sentinel, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Join(eventstore.ErrGettingRowsAffectedFail, err)
	}

	if rowsAffected != expectedRows {
		return fmt.Errorf("%w: expected %d, got %d", eventstore.ErrUnexpectedRowsAffected, expectedRows, rowsAffected)
	}

	return nil
}

func (es EventStore) buildReadQuery(filter eventstore.Filter) (string, []any, error) {
	stmt := goqu.Dialect(dialectSQLite).
		From(es.eventsTableName).
		Select(colPosition, colEventID, colEventType, colPayload, colTags).
		Order(goqu.C(colPosition).Asc())

	if !filter.IsEmpty() {
		stmt = stmt.Where(goqu.L(filter.Predicate(), filter.Args()...))
	}

	return stmt.Prepared(true).ToSQL()
}

func (es EventStore) buildConflictProbeQuery(filter eventstore.Filter) (string, []any, error) {
	stmt := goqu.Dialect(dialectSQLite).
		From(es.eventsTableName).
		Select(colEventID)

	if !filter.IsEmpty() {
		stmt = stmt.Where(goqu.L(filter.Predicate(), filter.Args()...))
	}

	return stmt.Prepared(true).ToSQL()
}

func (es EventStore) collectRows(rows *sql.Rows) (eventstore.SequencedEvents, error) {
	defer func() { _ = rows.Close() }()

	events := make(eventstore.SequencedEvents, 0)

	for rows.Next() {
		var position int64
		var eventID, eventType, payload, tagsJSON string

		if err := rows.Scan(&position, &eventID, &eventType, &payload, &tagsJSON); err != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		var tags []string
		if tagsJSON != "" {
			if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
				return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
			}
		}

		if len(tags) == 0 {
			tags = nil
		}

		events = append(events, eventstore.SequencedEvent{
			Event: eventstore.Event{
				ID:          eventID,
				EventType:   eventType,
				PayloadJSON: []byte(payload),
				Tags:        tags,
			},
			Position: uint64(position),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return events, nil
}

func (es EventStore) collectConflictingIDs(rows *sql.Rows) ([]string, error) {
	defer func() { _ = rows.Close() }()

	var ids []string

	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		ids = append(ids, eventID)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return ids, nil
}
