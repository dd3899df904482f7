package context

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCorrelationIDKeepsExisting(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "run-1")
	got, id := EnsureCorrelationID(ctx)
	assert.Equal(t, "run-1", id)
	assert.Equal(t, "run-1", CorrelationIDFromContext(got))
}

func TestEnsureCorrelationIDMintsULID(t *testing.T) {
	ctx, id := EnsureCorrelationID(context.Background())
	_, err := ulid.ParseStrict(id)
	require.NoError(t, err)
	assert.Equal(t, id, CorrelationIDFromContext(ctx))
}

func TestBlankValuesAreIgnored(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithRequestID(ctx, "  "))
	assert.Equal(t, ctx, WithTenantID(ctx, ""))
	assert.Equal(t, ctx, WithCorrelationID(ctx, " "))

	ctx = WithActor(ctx, " admin ", "auth0|1")
	actorType, actorID := ActorFromContext(ctx)
	assert.Equal(t, "admin", actorType)
	assert.Equal(t, "auth0|1", actorID)
}
