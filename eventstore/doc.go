// Package eventstore provides the core abstractions for an append-only event
// log with Dynamic Consistency Boundary (DCB) optimistic concurrency control.
//
// Instead of fixed streams or aggregates, the set of events an append
// decision depends on is expressed per decision as a Criteria over the whole
// log: event types combined with a contains-all tag test. The same Criteria
// scopes reads and, wrapped in an AppendCondition together with the position
// observed at read time, the conflict check of a conditional append.
//
// Key types:
//   - Event / SequencedEvent: the unit of fact, before and after it received
//     its Position in the log's total order
//   - Criteria: immutable, accumulating (types, tags) predicate
//   - AppendCondition: Criteria plus the "observed up to position P" cursor
//   - Filter / PredicateCompiler: the compiled, parameterized predicate and
//     the per-backend compiler contract
//
// Storage engines live in the sub-packages postgresengine and sqliteengine.
//
// Common usage pattern:
//
//	criteria := eventstore.NewCriteria().
//		ForTypes("StudentSubscribed").
//		ForTags("course:" + courseID)
//
//	events, err := store.Read(ctx, criteria)
//	if err != nil {
//		// handle error
//	}
//
//	// decide based on events, remember the newest observed position
//	var observed eventstore.Position
//	if len(events) > 0 {
//		observed = events[len(events)-1].Position
//	}
//
//	condition := eventstore.AppendConditionFor(criteria).WithAfterPosition(observed)
//	if _, err = store.Append(ctx, condition, newEvent); errors.Is(err, eventstore.ErrConditionViolated) {
//		// somebody else decided first: re-read and re-decide
//	}
package eventstore
