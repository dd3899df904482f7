package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("resource", "invoice"),
		attribute.String("user_id", "usr_456"),
		attribute.String("outcome", "synced"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("expected user_id to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordPaymentEvent(context.Background(), "stripe", "payment_succeeded")
	m.RecordSyncOutcome(context.Background(), "invoice", "failed")
}
