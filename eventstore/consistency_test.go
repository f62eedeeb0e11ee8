package eventstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dcbkit/tagged-eventstore-go/eventstore"
)

func Test_ConsistencyLevel_ContextRouting(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, eventstore.StrongConsistency, eventstore.GetConsistencyLevel(ctx),
		"a plain context defaults to strong consistency")

	eventualCtx := eventstore.WithEventualConsistency(ctx)
	assert.Equal(t, eventstore.EventualConsistency, eventstore.GetConsistencyLevel(eventualCtx))

	strongCtx := eventstore.WithStrongConsistency(eventualCtx)
	assert.Equal(t, eventstore.StrongConsistency, eventstore.GetConsistencyLevel(strongCtx))
}

func Test_ConsistencyLevel_String(t *testing.T) {
	assert.Equal(t, "strong", eventstore.StrongConsistency.String())
	assert.Equal(t, "eventual", eventstore.EventualConsistency.String())
	assert.Equal(t, "unknown", eventstore.ConsistencyLevel(42).String())
}
