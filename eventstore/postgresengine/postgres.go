// Package postgresengine provides a PostgreSQL implementation of the
// tagged event store, working with pgx pools, database/sql and sqlx
// connections through internal adapters.
package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"

	// Postgres dialect for goqu query building.
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/jmoiron/sqlx"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
	"github.com/dcbkit/tagged-eventstore-go/eventstore/postgresengine/internal/adapters"
)

const (
	defaultEventsTableName = "events"
	dialectPostgres        = "postgres"

	colPosition  = "position"
	colEventID   = "event_id"
	colEventType = "event_type"
	colPayload   = "payload"
	colTags      = "tags"

	castJsonb = "?::jsonb"

	// maxAppendAttempts bounds the retry loop around serialization
	// conflicts. The attempt that fails last surfaces its error.
	maxAppendAttempts = 3
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EventStore implements the DCB event log on top of PostgreSQL.
//
// Reads and conflict checks are scoped by the same compiled criteria
// predicate, and appends run inside a single SERIALIZABLE transaction
// so the condition check and the insert observe one consistent log
// state. Positions are assigned gaplessly inside that transaction.
type EventStore struct {
	db              adapters.DBAdapter
	compiler        Compiler
	eventsTableName string

	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

type queryResultRow struct {
	eventID   string
	eventType string
	payload   []byte
	tagsJSON  []byte
}

// NewEventStoreFromPGXPool creates an EventStore backed by a pgx connection pool.
func NewEventStoreFromPGXPool(pool *pgxpool.Pool, options ...Option) (EventStore, error) {
	if pool == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(pool), options...)
}

// NewEventStoreFromPGXPoolWithReplica creates an EventStore backed by a
// primary pgx pool and a read replica pool. Reads are routed to the replica
// when the context requests eventual consistency, see
// eventstore.WithEventualConsistency. Appends always use the primary.
func NewEventStoreFromPGXPoolWithReplica(primary, replica *pgxpool.Pool, options ...Option) (EventStore, error) {
	if primary == nil || replica == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapterWithReplica(primary, replica), options...)
}

// NewEventStoreFromSQLDB creates an EventStore backed by a database/sql connection.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates an EventStore backed by a sqlx connection.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (EventStore, error) {
	if db == nil {
		return EventStore{}, eventstore.ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (EventStore, error) {
	es := EventStore{
		db:              db,
		compiler:        NewCompiler(),
		eventsTableName: defaultEventsTableName,
	}

	for _, option := range options {
		if err := option(&es); err != nil {
			return EventStore{}, err
		}
	}

	return es, nil
}

// Compiler returns the predicate compiler used by this engine, so callers
// can compile criteria into filters for inspection or custom tooling.
func (es EventStore) Compiler() eventstore.PredicateCompiler {
	return es.compiler
}

// Read returns all events matching the criteria in ascending position order.
// Empty criteria match the whole log. The returned slice is empty, not nil
// checked, when nothing matches.
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

	rows, err := es.db.Query(ctx, query, args...)
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
// the insert run in one SERIALIZABLE transaction; on a serialization
// conflict the whole attempt is retried a bounded number of times before
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
		es.logDebug(ctx, fmt.Sprintf("append serialization conflict, attempt %d of %d", attempt, maxAppendAttempts))
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
	tx, err := es.db.BeginSerializable(ctx)
	if err != nil {
		return nil, errors.Join(eventstore.ErrBeginningTxFailed, err)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
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

	if err := tx.Commit(ctx); err != nil {
		if classified, ok := adapters.ClassifyError(err); ok {
			return nil, errors.Join(classified, err)
		}

		return nil, errors.Join(eventstore.ErrCommittingTxFailed, err)
	}

	committed = true

	return appended, nil
}

// checkAppendCondition probes for a conflicting event inside the append
// transaction. An empty condition never conflicts.
func (es EventStore) checkAppendCondition(
	ctx context.Context,
	tx adapters.DBTransaction,
	condition eventstore.AppendCondition,
) error {
	if condition.IsEmpty() {
		return nil
	}

	filter := es.compiler.Compile(condition.Criteria(), condition.After())

	query, args, err := es.buildConflictProbeQuery(filter)
	if err != nil {
		return errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	es.logQuery(ctx, operationAppend, query)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		if classified, ok := adapters.ClassifyError(err); ok {
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

func (es EventStore) currentMaxPosition(ctx context.Context, tx adapters.DBTransaction) (uint64, error) {
	query, args, err := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(goqu.COALESCE(goqu.MAX(colPosition), 0)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return 0, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		if classified, ok := adapters.ClassifyError(err); ok {
			return 0, errors.Join(classified, err)
		}

		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	var maxPosition int64

	if !rows.Next() {
		_ = rows.Close()

		return 0, eventstore.ErrScanningDBRowFailed
	}

	if err := rows.Scan(&maxPosition); err != nil {
		_ = rows.Close()

		return 0, errors.Join(eventstore.ErrScanningDBRowFailed, err)
	}

	if err := rows.Close(); err != nil {
		return 0, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return uint64(maxPosition), nil
}

func (es EventStore) insertEvents(
	ctx context.Context,
	tx adapters.DBTransaction,
	currentMax uint64,
	events eventstore.Events,
) (eventstore.SequencedEvents, error) {
	appended := make(eventstore.SequencedEvents, 0, len(events))
	valRows := make([]goqu.Vals, 0, len(events))

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

		valRows = append(valRows, goqu.Vals{
			int64(position),
			event.ID,
			event.EventType,
			goqu.L(castJsonb, string(event.PayloadJSON)),
			goqu.L(castJsonb, string(tagsJSON)),
		})

		appended = append(appended, eventstore.SequencedEvent{Event: event, Position: position})
	}

	insert := goqu.Dialect(dialectPostgres).
		Insert(es.eventsTableName).
		Cols(colPosition, colEventID, colEventType, colPayload, colTags)

	for _, valRow := range valRows {
		insert = insert.Vals(valRow)
	}

	query, args, err := insert.Prepared(true).ToSQL()
	if err != nil {
		return nil, errors.Join(eventstore.ErrBuildingQueryFailed, err)
	}

	es.logQuery(ctx, operationAppend, query)

	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		if classified, ok := adapters.ClassifyError(err); ok {
			return nil, errors.Join(classified, err)
		}

		return nil, errors.Join(eventstore.ErrAppendingEventsFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, errors.Join(eventstore.ErrGettingRowsAffectedFail, err)
	}

	if rowsAffected != int64(len(events)) {
		return nil, fmt.Errorf("%w: expected %d, got %d", eventstore.ErrUnexpectedRowsAffected, len(events), rowsAffected)
	}

	return appended, nil
}

func (es EventStore) buildReadQuery(filter eventstore.Filter) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(colPosition, colEventID, colEventType, colPayload, colTags).
		Order(goqu.C(colPosition).Asc())

	if !filter.IsEmpty() {
		stmt = stmt.Where(goqu.L(filter.Predicate(), filter.Args()...))
	}

	return stmt.Prepared(true).ToSQL()
}

func (es EventStore) buildConflictProbeQuery(filter eventstore.Filter) (string, []any, error) {
	stmt := goqu.Dialect(dialectPostgres).
		From(es.eventsTableName).
		Select(colEventID)

	if !filter.IsEmpty() {
		stmt = stmt.Where(goqu.L(filter.Predicate(), filter.Args()...))
	}

	return stmt.Prepared(true).ToSQL()
}

func (es EventStore) collectRows(rows adapters.DBRows) (eventstore.SequencedEvents, error) {
	events := make(eventstore.SequencedEvents, 0)

	for rows.Next() {
		var row queryResultRow
		var position int64

		if err := rows.Scan(&position, &row.eventID, &row.eventType, &row.payload, &row.tagsJSON); err != nil {
			_ = rows.Close()

			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		var tags []string
		if len(row.tagsJSON) > 0 {
			if err := json.Unmarshal(row.tagsJSON, &tags); err != nil {
				_ = rows.Close()

				return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
			}
		}

		if len(tags) == 0 {
			tags = nil
		}

		events = append(events, eventstore.SequencedEvent{
			Event: eventstore.Event{
				ID:          row.eventID,
				EventType:   row.eventType,
				PayloadJSON: row.payload,
				Tags:        tags,
			},
			Position: uint64(position),
		})
	}

	if err := rows.Close(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return events, nil
}

func (es EventStore) collectConflictingIDs(rows adapters.DBRows) ([]string, error) {
	var ids []string

	for rows.Next() {
		var eventID string
		if err := rows.Scan(&eventID); err != nil {
			_ = rows.Close()

			return nil, errors.Join(eventstore.ErrScanningDBRowFailed, err)
		}

		ids = append(ids, eventID)
	}

	if err := rows.Close(); err != nil {
		return nil, errors.Join(eventstore.ErrQueryingEventsFailed, err)
	}

	return ids, nil
}
