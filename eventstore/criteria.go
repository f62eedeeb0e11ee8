package eventstore

import (
	"slices"
)

// Criteria specifies which events a read or an append condition is scoped to:
// any event whose type is a member of Types() and whose tag set contains
// every tag in Tags().
//
// Both sets are additive and order-insensitive. An empty types set matches
// any event type, an empty tags set matches any tags, and the empty Criteria
// matches every event. The tags clause is a contains-all (superset) test,
// not an equality test.
//
// Criteria is an immutable value: ForTypes and ForTags return an extended
// copy, so a Criteria can safely be shared across concurrent calls.
type Criteria struct {
	types []string
	tags  []string
}

// NewCriteria creates the empty Criteria, which matches every event.
func NewCriteria() Criteria {
	return Criteria{}
}

// ForTypes returns a new Criteria extended with one or multiple event types.
//
// It sanitizes the input:
//   - removing empty event types ("")
//   - sorting the event types
//   - removing duplicate event types
func (c Criteria) ForTypes(eventTypes ...string) Criteria {
	return Criteria{
		types: sanitizeStrings(c.types, eventTypes),
		tags:  c.tags,
	}
}

// ForTags returns a new Criteria extended with one or multiple tags that a
// matching event must all carry.
//
// It sanitizes the input:
//   - removing empty tags ("")
//   - sorting the tags
//   - removing duplicate tags
func (c Criteria) ForTags(tags ...string) Criteria {
	return Criteria{
		types: c.types,
		tags:  sanitizeStrings(c.tags, tags),
	}
}

// Types returns the accumulated event types, sorted and de-duplicated.
func (c Criteria) Types() []string {
	return c.types
}

// Tags returns the accumulated tags, sorted and de-duplicated.
func (c Criteria) Tags() []string {
	return c.tags
}

// IsEmpty reports whether this Criteria has no types and no tags,
// in which case it matches every event.
func (c Criteria) IsEmpty() bool {
	return len(c.types) == 0 && len(c.tags) == 0
}

func sanitizeStrings(existing []string, added []string) []string {
	all := make([]string, 0, len(existing)+len(added))
	all = append(all, existing...)
	all = append(all, added...)

	all = slices.DeleteFunc(
		all,
		func(s string) bool {
			return s == ""
		})
	slices.Sort(all)
	all = slices.Compact(all)
	all = slices.Clip(all)

	if len(all) == 0 {
		return nil
	}

	return all
}
