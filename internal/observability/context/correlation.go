package context

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type correlationKey struct{}

// WithCorrelationID tags work that spans several requests or records, such
// as one sync run, so every log line and audit entry can be joined.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(correlationKey{}).(string)
	return value
}

// EnsureCorrelationID returns the existing correlation id or mints a ULID.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return WithCorrelationID(ctx, id), id
}
