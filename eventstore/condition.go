package eventstore

// AppendCondition makes an append conditional on the absence of conflicting
// events: the append is rejected iff at least one event matching the wrapped
// Criteria exists at a position greater than the observed position cursor.
//
// The Criteria should be the same one used for the read before making the
// business decision, and the cursor the position of the newest event that
// read returned (0 when nothing was observed yet, which matches any
// position). A condition wrapping the empty Criteria never rejects.
type AppendCondition struct {
	criteria Criteria
	after    Position
}

// UnconditionalAppend creates the canonical empty AppendCondition which
// never rejects an append, regardless of log contents.
func UnconditionalAppend() AppendCondition {
	return AppendCondition{}
}

// AppendConditionFor creates an AppendCondition bound to the given Criteria
// with an observed position cursor of 0, meaning "no event has been observed
// yet": any event matching the criteria causes a rejection.
func AppendConditionFor(criteria Criteria) AppendCondition {
	return AppendCondition{criteria: criteria}
}

// WithAfterPosition returns a copy of this AppendCondition with the observed
// position cursor set: only matching events beyond this position reject.
func (ac AppendCondition) WithAfterPosition(after Position) AppendCondition {
	return AppendCondition{criteria: ac.criteria, after: after}
}

// Criteria returns the Criteria this condition watches.
func (ac AppendCondition) Criteria() Criteria {
	return ac.criteria
}

// After returns the observed position cursor.
func (ac AppendCondition) After() Position {
	return ac.after
}

// IsEmpty reports whether this condition can never reject an append.
// It is true iff the wrapped Criteria is empty; the cursor is ignored then.
func (ac AppendCondition) IsEmpty() bool {
	return ac.criteria.IsEmpty()
}
