package eventstore

import (
	"encoding/json"
)

// Events is an alias type for a slice of Event.
type Events = []Event

// SequencedEvents is an alias type for a slice of SequencedEvent.
type SequencedEvents = []SequencedEvent

// Position is the strictly increasing integer assigned to each event at append
// time. It is the total order of the log: positions start at 1, are gapless
// within one store instance, and are never reassigned or reused.
type Position = uint64

// Event is the immutable unit of fact handed to the EventStore for appending.
//
// It is built on scalars to be completely agnostic of the implementation of
// Domain Events in the client code.
//
// While its properties are exported, it should only be constructed with the
// supplied factory methods:
//   - BuildEvent
//   - BuildEventWithoutTags
type Event struct {
	ID          string
	EventType   string
	PayloadJSON []byte
	Tags        []string
}

// SequencedEvent is an Event as read back from the store, carrying the
// Position the store assigned when it was appended.
type SequencedEvent struct {
	Event
	Position Position
}

// BuildEvent is a factory method for Event.
//
// The id must be non-empty and is unique across the log (case-insensitive,
// enforced by the storage engines at insert time). The eventType must be
// non-empty. Tags are sanitized: empty tags are removed, the rest are sorted
// and de-duplicated. Returns an error if payloadJSON is not valid JSON.
func BuildEvent(id string, eventType string, payloadJSON []byte, tags ...string) (Event, error) {
	if id == "" {
		return Event{}, ErrEmptyEventID
	}

	if eventType == "" {
		return Event{}, ErrEmptyEventType
	}

	if !json.Valid(payloadJSON) {
		return Event{}, ErrInvalidPayloadJSON
	}

	return Event{
		ID:          id,
		EventType:   eventType,
		PayloadJSON: payloadJSON,
		Tags:        sanitizeStrings(nil, tags),
	}, nil
}

// BuildEventWithoutTags is a factory method for Event with an empty tag set.
//
// Returns an error if payloadJSON is not valid JSON.
func BuildEventWithoutTags(id string, eventType string, payloadJSON []byte) (Event, error) {
	return BuildEvent(id, eventType, payloadJSON)
}
