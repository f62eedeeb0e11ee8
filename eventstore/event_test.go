package eventstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

func Test_BuildEvent_ValidInput(t *testing.T) {
	tests := []struct {
		name     string
		build    func() (eventstore.Event, error)
		validate func(t *testing.T, e eventstore.Event)
	}{
		{
			name: "event_with_tags",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent(
					"evt-1", "StudentSubscribed", []byte(`{"studentId":"s-1"}`),
					"student:s-1", "course:c-1",
				)
			},
			validate: func(t *testing.T, e eventstore.Event) {
				assert.Equal(t, "evt-1", e.ID)
				assert.Equal(t, "StudentSubscribed", e.EventType)
				assert.JSONEq(t, `{"studentId":"s-1"}`, string(e.PayloadJSON))
				assert.Equal(t, []string{"course:c-1", "student:s-1"}, e.Tags)
			},
		},
		{
			name: "event_without_tags",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEventWithoutTags("evt-2", "SomethingHappened", []byte(`{}`))
			},
			validate: func(t *testing.T, e eventstore.Event) {
				assert.Equal(t, "evt-2", e.ID)
				assert.Nil(t, e.Tags)
			},
		},
		{
			name: "tags_are_sanitized",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent(
					"evt-3", "StudentSubscribed", []byte(`{}`),
					"b", "", "a", "b",
				)
			},
			validate: func(t *testing.T, e eventstore.Event) {
				assert.Equal(t, []string{"a", "b"}, e.Tags)
			},
		},
		{
			name: "scalar_json_payload_is_valid",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEventWithoutTags("evt-4", "SomethingHappened", []byte(`"just a string"`))
			},
			validate: func(t *testing.T, e eventstore.Event) {
				assert.Equal(t, `"just a string"`, string(e.PayloadJSON))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			event, err := tc.build()
			require.NoError(t, err)
			tc.validate(t, event)
		})
	}
}

func Test_BuildEvent_InvalidInput(t *testing.T) {
	tests := []struct {
		name        string
		build       func() (eventstore.Event, error)
		expectedErr error
	}{
		{
			name: "empty_event_id",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent("", "StudentSubscribed", []byte(`{}`))
			},
			expectedErr: eventstore.ErrEmptyEventID,
		},
		{
			name: "empty_event_type",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent("evt-1", "", []byte(`{}`))
			},
			expectedErr: eventstore.ErrEmptyEventType,
		},
		{
			name: "invalid_payload_json",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent("evt-1", "StudentSubscribed", []byte(`{not json`))
			},
			expectedErr: eventstore.ErrInvalidPayloadJSON,
		},
		{
			name: "nil_payload_is_invalid_json",
			build: func() (eventstore.Event, error) {
				return eventstore.BuildEvent("evt-1", "StudentSubscribed", nil)
			},
			expectedErr: eventstore.ErrInvalidPayloadJSON,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expectedErr)
		})
	}
}
