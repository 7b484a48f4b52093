package metrics

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("provider", "stripe"),
		attribute.String("tenant_id", "456"),
		attribute.String("receipt_number", "RCP-1"),
		attribute.String("reason", "signature"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "tenant_id" || attr.Key == "receipt_number" {
			t.Fatalf("expected %s to be dropped", attr.Key)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordPaymentEvent(ctx, "stripe", "succeeded")
	m.RecordWebhookRejected(ctx, "stripe", "signature")
	m.RecordReconciliationMismatch(ctx, "succeeded", "tenant_not_found")
	m.RecordLedgerTransition(ctx, "PAID")
	m.RecordLinkIssued(ctx, "stripe", "ok")
	m.ObserveProcessorCall(ctx, "checkout", time.Second)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "rentwise"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordPaymentEvent(context.Background(), "stripe", "succeeded")
}
