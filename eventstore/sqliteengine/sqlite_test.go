package sqliteengine_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
	"github.com/dcbkit/tagged-eventstore-go/eventstore/sqliteengine"
	"github.com/dcbkit/tagged-eventstore-go/testutil/fixtures"
	"github.com/dcbkit/tagged-eventstore-go/testutil/observability/testdoubles"
	sqliteconfig "github.com/dcbkit/tagged-eventstore-go/testutil/sqliteengine/config"
)

func newTestStore(t *testing.T, options ...sqliteengine.Option) sqliteengine.EventStore {
	t.Helper()

	es, db, err := sqliteconfig.NewInMemoryEventStore(context.Background(), options...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	return es
}

func Test_Append_AssignsGaplessPositionsStartingAtOne(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()

	first, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
	)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, eventstore.Position(1), first[0].Position)

	batch, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, eventstore.Position(2), batch[0].Position)
	assert.Equal(t, eventstore.Position(3), batch[1].Position)
	assert.Equal(t, eventstore.Position(4), batch[2].Position)
}

func Test_Read_EmptyCriteriaReturnsWholeLogInPositionOrder(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	studentID := fixtures.GivenUniqueID()

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
		fixtures.BuildStudentSubscribed(studentID, courseID),
		fixtures.BuildStudentUnsubscribed(studentID, courseID),
	)
	require.NoError(t, err)

	events, err := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, err)
	require.Len(t, events, 3)

	for idx, event := range events {
		assert.Equal(t, eventstore.Position(idx+1), event.Position)
	}

	assert.Equal(t, fixtures.CourseDefinedEventType, events[0].EventType)
	assert.Equal(t, fixtures.StudentSubscribedEventType, events[1].EventType)
	assert.Equal(t, fixtures.StudentUnsubscribedEventType, events[2].EventType)
}

func Test_Read_EmptyResultIsNotAnError(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	events, err := es.Read(ctx, eventstore.NewCriteria().ForTags(fixtures.CourseTag(fixtures.GivenUniqueID())))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func Test_Read_TypesClauseIsMembership(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	studentID := fixtures.GivenUniqueID()

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
		fixtures.BuildStudentSubscribed(studentID, courseID),
		fixtures.BuildStudentUnsubscribed(studentID, courseID),
	)
	require.NoError(t, err)

	events, err := es.Read(ctx, eventstore.NewCriteria().
		ForTypes(fixtures.StudentSubscribedEventType, fixtures.StudentUnsubscribedEventType))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, fixtures.StudentSubscribedEventType, events[0].EventType)
	assert.Equal(t, fixtures.StudentUnsubscribedEventType, events[1].EventType)
}

func Test_Read_TagsClauseIsSupersetMatching(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	studentID := fixtures.GivenUniqueID()
	otherCourseID := fixtures.GivenUniqueID()

	// The subscription carries both a student and a course tag, the course
	// definition only a course tag.
	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
		fixtures.BuildStudentSubscribed(studentID, courseID),
		fixtures.BuildCourseDefined(otherCourseID, "History 201", 20),
	)
	require.NoError(t, err)

	byCourse, err := es.Read(ctx, eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID)))
	require.NoError(t, err)
	assert.Len(t, byCourse, 2, "a single queried tag matches events carrying additional tags")

	byBoth, err := es.Read(ctx, eventstore.NewCriteria().
		ForTags(fixtures.CourseTag(courseID), fixtures.StudentTag(studentID)))
	require.NoError(t, err)
	require.Len(t, byBoth, 1, "an event must carry every queried tag to match")
	assert.Equal(t, fixtures.StudentSubscribedEventType, byBoth[0].EventType)
}

func Test_ReadAfter_ReturnsOnlyEventsBeyondTheCursor(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)

	events, err := es.ReadAfter(ctx, eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID)), 1)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, eventstore.Position(2), events[0].Position)
	assert.Equal(t, eventstore.Position(3), events[1].Position)
}

func Test_Append_ConditionRejectsWhenMatchingEventExistsBeyondCursor(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().
		ForTypes(fixtures.StudentSubscribedEventType).
		ForTags(fixtures.CourseTag(courseID))

	appended, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)
	require.Len(t, appended, 1)

	// A cursor of 0 means nothing was observed, so the existing
	// subscription at position 1 conflicts.
	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrConditionViolated)

	// A cursor at the observed position accepts.
	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria).WithAfterPosition(appended[0].Position),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)
}

func Test_Append_RejectionCarriesConflictDetails(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID))

	conflicting := fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID)
	_, err := es.Append(ctx, eventstore.UnconditionalAppend(), conflicting)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.Error(t, err)

	var violation *eventstore.ConditionViolatedError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, eventstore.Position(0), violation.After)
	assert.Equal(t, []string{conflicting.ID}, violation.EventIDs)
	assert.Equal(t, criteria.Tags(), violation.ViolatedCriteria.Tags())
}

func Test_Append_RejectedAppendLeavesTheLogUnchanged(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID))

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.ErrorIs(t, err, eventstore.ErrConditionViolated)

	events, err := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, err)
	assert.Len(t, events, 1)

	// The next successful append continues the gapless sequence.
	appended, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildStudentUnsubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)
	assert.Equal(t, eventstore.Position(2), appended[0].Position)
}

func Test_Append_EmptyConditionNeverRejects(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()

	for i := 0; i < 3; i++ {
		_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
			fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
		)
		require.NoError(t, err)
	}

	events, err := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func Test_Append_ConditionScopeIsIndependentOfOtherActivity(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	otherCourseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID))

	observed, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
	)
	require.NoError(t, err)

	// Unrelated activity after the observation must not conflict.
	_, err = es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(otherCourseID, "History 201", 20),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), otherCourseID),
	)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria).WithAfterPosition(observed[0].Position),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)
}

func Test_Append_DuplicateEventIDIsRejectedCaseInsensitively(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()

	original, err := eventstore.BuildEvent(
		"Evt-AbC", fixtures.CourseDefinedEventType, []byte(`{}`), fixtures.CourseTag(courseID),
	)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.UnconditionalAppend(), original)
	require.NoError(t, err)

	duplicate, err := eventstore.BuildEvent(
		"evt-abc", fixtures.CourseDefinedEventType, []byte(`{}`), fixtures.CourseTag(courseID),
	)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.UnconditionalAppend(), duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrDuplicateEventID)

	events, readErr := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, readErr)
	assert.Len(t, events, 1)
}

func Test_Append_WithoutEventsFails(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)

	_, err := es.Append(ctx, eventstore.UnconditionalAppend())
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrNoEventsToAppend)
}

func Test_Append_BatchIsAtomicOnDuplicateID(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()

	good := fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID)

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(), good)
	require.NoError(t, err)

	another := fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID)
	clash, buildErr := eventstore.BuildEvent(good.ID, fixtures.StudentSubscribedEventType, []byte(`{}`))
	require.NoError(t, buildErr)

	_, err = es.Append(ctx, eventstore.UnconditionalAppend(), another, clash)
	require.Error(t, err)

	events, readErr := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, readErr)
	assert.Len(t, events, 1, "a failing batch must not append any of its events")
}

func Test_Append_SurfacesSerializationConflictWhenWriteLockIsHeld(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	// Zero busy timeout: a held write lock fails the begin immediately, so
	// every retry attempt runs against the still-held lock.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_foreign_keys=on&_busy_timeout=0", path)

	writerDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = writerDB.Close() })

	holderDB, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holderDB.Close() })

	metricsSpy := testdoubles.NewMetricsCollectorSpy()
	es, err := sqliteengine.NewEventStore(writerDB, sqliteengine.WithMetrics(metricsSpy))
	require.NoError(t, err)
	require.NoError(t, es.CreateSchema(ctx))

	holderTx, err := holderDB.BeginTx(ctx, nil)
	require.NoError(t, err)

	courseID := fixtures.GivenUniqueID()

	_, err = es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrSerializationConflict)
	assert.True(t, metricsSpy.HasCounterRecord(
		"eventstore_serialization_conflicts_total",
		map[string]string{"operation": "append"},
	))

	// Once the lock is released the same append goes through.
	require.NoError(t, holderTx.Commit())

	appended, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
	)
	require.NoError(t, err)
	require.Len(t, appended, 1)
	assert.Equal(t, eventstore.Position(1), appended[0].Position)
}

func Test_Append_ConcurrentConditionalAppendsAdmitExactlyOneWinner(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")

	openStore := func() sqliteengine.EventStore {
		db, err := sql.Open("sqlite3", sqliteengine.DSN(path))
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		es, err := sqliteengine.NewEventStore(db)
		require.NoError(t, err)

		return es
	}

	first := openStore()
	require.NoError(t, first.CreateSchema(ctx))
	second := openStore()

	courseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().
		ForTypes(fixtures.StudentSubscribedEventType).
		ForTags(fixtures.CourseTag(courseID))

	// Both writers decide on the same observed state: no subscription yet.
	condition := eventstore.AppendConditionFor(criteria)

	results := make(chan error, 2)
	start := make(chan struct{})

	for _, es := range []sqliteengine.EventStore{first, second} {
		go func() {
			<-start
			_, err := es.Append(ctx, condition,
				fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
			)
			results <- err
		}()
	}

	close(start)

	var failures []error

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			failures = append(failures, err)
		}
	}

	require.Len(t, failures, 1, "exactly one of the racing appends must win")
	assert.ErrorIs(t, failures[0], eventstore.ErrConditionViolated)

	events, err := first.Read(ctx, criteria)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func Test_Read_RoundTripsPayloadAndTags(t *testing.T) {
	ctx := context.Background()
	es := newTestStore(t)
	courseID := fixtures.GivenUniqueID()
	studentID := fixtures.GivenUniqueID()

	event := fixtures.BuildStudentSubscribed(studentID, courseID)

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(), event)
	require.NoError(t, err)

	events, err := es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.Equal(t, event.ID, events[0].ID)
	assert.Equal(t, event.EventType, events[0].EventType)
	assert.JSONEq(t, string(event.PayloadJSON), string(events[0].PayloadJSON))
	assert.Equal(t, event.Tags, events[0].Tags)
}

func Test_Observability_LoggerAndMetricsAreUsed(t *testing.T) {
	ctx := context.Background()
	loggerSpy := testdoubles.NewContextualLoggerSpy()
	metricsSpy := testdoubles.NewMetricsCollectorSpy()
	tracingSpy := testdoubles.NewTracingCollectorSpy()

	es := newTestStore(t,
		sqliteengine.WithContextualLogger(loggerSpy),
		sqliteengine.WithMetrics(metricsSpy),
		sqliteengine.WithTracing(tracingSpy),
	)

	courseID := fixtures.GivenUniqueID()

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildCourseDefined(courseID, "Math 101", 10),
	)
	require.NoError(t, err)

	_, err = es.Read(ctx, eventstore.NewCriteria())
	require.NoError(t, err)

	assert.True(t, loggerSpy.HasRecordContaining("debug", "append"))
	assert.True(t, loggerSpy.HasRecordContaining("debug", "read"))

	assert.True(t, metricsSpy.HasDurationRecord(
		"eventstore_operation_duration_seconds",
		map[string]string{"operation": "append", "status": "success"},
	))
	assert.True(t, metricsSpy.HasDurationRecord(
		"eventstore_operation_duration_seconds",
		map[string]string{"operation": "read", "status": "success"},
	))

	spans := tracingSpy.Spans()
	require.Len(t, spans, 2)
	assert.Equal(t, "eventstore.append", spans[0].Name)
	assert.Equal(t, "success", spans[0].Status)
	assert.Equal(t, "eventstore.read", spans[1].Name)
	assert.True(t, spans[1].Finished)
}

func Test_Observability_ConditionViolationIsCounted(t *testing.T) {
	ctx := context.Background()
	metricsSpy := testdoubles.NewMetricsCollectorSpy()

	es := newTestStore(t, sqliteengine.WithMetrics(metricsSpy))

	courseID := fixtures.GivenUniqueID()
	criteria := eventstore.NewCriteria().ForTags(fixtures.CourseTag(courseID))

	_, err := es.Append(ctx, eventstore.UnconditionalAppend(),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.NoError(t, err)

	_, err = es.Append(ctx, eventstore.AppendConditionFor(criteria),
		fixtures.BuildStudentSubscribed(fixtures.GivenUniqueID(), courseID),
	)
	require.ErrorIs(t, err, eventstore.ErrConditionViolated)

	assert.True(t, metricsSpy.HasCounterRecord(
		"eventstore_condition_violations_total",
		map[string]string{"operation": "append"},
	))
}

func Test_NewEventStore_Validation(t *testing.T) {
	_, err := sqliteengine.NewEventStore(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, eventstore.ErrNilDatabaseConnection))

	db := sqliteconfig.OpenInMemoryDB()
	t.Cleanup(func() { _ = db.Close() })

	_, err = sqliteengine.NewEventStore(db, sqliteengine.WithTableNames("", ""))
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrEmptyEventsTableName)
}
