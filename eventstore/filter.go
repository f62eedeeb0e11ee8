package eventstore

// Filter is the compiled, backend-native form of a Criteria plus an optional
// position cursor: a SQL predicate fragment with `?` placeholders and the
// flat list of values bound to them, in exactly placeholder order.
//
// No caller-supplied string (event type, tag value) is ever part of the
// predicate text; all variable content travels through Args.
type Filter struct {
	predicate string
	args      []any
}

// NewFilter creates a Filter from a predicate fragment and its bound values.
// Compilers must supply one value per `?` placeholder, in placeholder order.
func NewFilter(predicate string, args ...any) Filter {
	return Filter{predicate: predicate, args: args}
}

// Predicate returns the predicate text, without a leading WHERE.
func (f Filter) Predicate() string {
	return f.predicate
}

// Args returns the bound values in placeholder order.
func (f Filter) Args() []any {
	return f.args
}

// IsEmpty reports whether no clause applies, i.e. the filter selects all
// rows. Engines must skip the WHERE clause entirely then, never emit a
// vacuous TRUE fragment.
func (f Filter) IsEmpty() bool {
	return f.predicate == ""
}

// PredicateCompiler turns a Criteria and an optional position cursor into a
// backend-native Filter. One implementation exists per storage backend; the
// engines select theirs at construction time.
//
// Compilation is pure and total over any valid input:
//   - non-empty types compile to a parameterized membership test;
//   - each tag compiles into the backend's contains-all realization (a
//     correlated existence test per tag, or a single native containment
//     predicate), upholding identical superset semantics;
//   - afterPosition > 0 compiles to a `position > ?` bound;
//   - absent clauses are omitted, present ones are AND-joined;
//   - the empty Criteria with afterPosition 0 compiles to the empty Filter.
type PredicateCompiler interface {
	Compile(criteria Criteria, afterPosition Position) Filter
}
