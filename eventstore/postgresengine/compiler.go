package postgresengine

import (
	"fmt"
	"strings"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

// Compiler implements eventstore.PredicateCompiler for the Postgres schema,
// where an event's tags are stored as a jsonb array of strings on the event
// row itself.
//
// The contains-all tag test compiles to a single jsonb containment
// predicate: `tags @> '["a","b"]'` is true iff the stored array is a
// superset of the queried one, which is exactly the Criteria semantics.
// Duplicate elements on either side do not change the containment result.
type Compiler struct{}

// NewCompiler creates the Postgres predicate compiler.
func NewCompiler() Compiler {
	return Compiler{}
}

// Compile turns the criteria and the optional position cursor into a
// parameterized predicate fragment. Absent clauses are omitted; present
// ones are AND-joined; args match placeholder order.
func (Compiler) Compile(criteria eventstore.Criteria, afterPosition eventstore.Position) eventstore.Filter {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, len(criteria.Types())+2)

	if types := criteria.Types(); len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", colEventType, placeholders))

		for _, eventType := range types {
			args = append(args, eventType)
		}
	}

	if tags := criteria.Tags(); len(tags) > 0 {
		tagsJSON, _ := json.Marshal(tags) // a []string always marshals

		clauses = append(clauses, fmt.Sprintf("%s @> %s", colTags, castJsonb))
		args = append(args, string(tagsJSON))
	}

	if afterPosition > 0 {
		clauses = append(clauses, fmt.Sprintf("%s > ?", colPosition))
		args = append(args, afterPosition)
	}

	if len(clauses) == 0 {
		return eventstore.Filter{}
	}

	return eventstore.NewFilter(strings.Join(clauses, " AND "), args...)
}
