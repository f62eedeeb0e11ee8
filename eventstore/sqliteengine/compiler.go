package sqliteengine

import (
	"fmt"
	"strings"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

// Compiler implements eventstore.PredicateCompiler for the SQLite schema,
// where tags live in a side table with one (position, tag) row per tag.
//
// The contains-all tag test compiles to one correlated EXISTS subquery
// per queried tag. Columns are table-qualified so the fragments stay
// unambiguous when spliced into queries that touch both tables.
type Compiler struct {
	eventsTable string
	tagsTable   string
}

// NewCompiler creates the SQLite predicate compiler for the given tables.
func NewCompiler(eventsTable, tagsTable string) Compiler {
	return Compiler{eventsTable: eventsTable, tagsTable: tagsTable}
}

// Compile turns the criteria and the optional position cursor into a
// parameterized predicate fragment. Absent clauses are omitted; present
// ones are AND-joined; args match placeholder order.
func (c Compiler) Compile(criteria eventstore.Criteria, afterPosition eventstore.Position) eventstore.Filter {
	clauses := make([]string, 0, 2+len(criteria.Tags()))
	args := make([]any, 0, len(criteria.Types())+len(criteria.Tags())+1)

	if types := criteria.Types(); len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")
		clauses = append(clauses, fmt.Sprintf("%s.%s IN (%s)", c.eventsTable, colEventType, placeholders))

		for _, eventType := range types {
			args = append(args, eventType)
		}
	}

	for _, tag := range criteria.Tags() {
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM %s WHERE %s.%s = %s.%s AND %s.%s = ?)",
			c.tagsTable,
			c.tagsTable, colPosition, c.eventsTable, colPosition,
			c.tagsTable, colTag,
		))
		args = append(args, tag)
	}

	if afterPosition > 0 {
		clauses = append(clauses, fmt.Sprintf("%s.%s > ?", c.eventsTable, colPosition))
		args = append(args, afterPosition)
	}

	if len(clauses) == 0 {
		return eventstore.Filter{}
	}

	return eventstore.NewFilter(strings.Join(clauses, " AND "), args...)
}
