package stripe

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	stripego "github.com/stripe/stripe-go/v82"
)

func TestParseEventVerifiesSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_123","object":"event","type":"customer.created","created":1700000000,"data":{"object":{}}}`)
	header := SignPayload(payload, "whsec_test")

	event, err := ParseEvent(payload, header, "whsec_test")
	if err != nil {
		t.Fatalf("expected valid signature, got error: %v", err)
	}
	if event.Kind != gateway.EventKindIgnored {
		t.Fatalf("expected ignored kind, got %s", event.Kind)
	}

	if _, err := ParseEvent(payload, header, "whsec_other"); !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	if _, err := ParseEvent(payload, "", "whsec_test"); !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing header, got %v", err)
	}
	if _, err := ParseEvent(payload, header, ""); !errors.Is(err, gateway.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing secret, got %v", err)
	}
}

func TestParseEventMapsKinds(t *testing.T) {
	created := time.Now().UTC().Unix()
	metadata := map[string]any{
		"payment_record_id": "1234",
		"tenant_id":         "42",
	}

	tests := []struct {
		name      string
		eventType string
		object    map[string]any
		wantKind  gateway.EventKind
		wantTxn   string
		wantCents int64
		wantMsg   string
	}{{
		name:      "checkout completed and paid",
		eventType: EventCheckoutCompleted,
		object: map[string]any{
			"id":             "cs_1",
			"payment_intent": "pi_1",
			"payment_status": "paid",
			"customer":       "cus_1",
			"amount_total":   100000,
			"currency":       "usd",
			"metadata":       metadata,
		},
		wantKind:  gateway.EventKindSucceeded,
		wantTxn:   "pi_1",
		wantCents: 100000,
	}, {
		name:      "checkout completed but unpaid",
		eventType: EventCheckoutCompleted,
		object: map[string]any{
			"id":             "cs_2",
			"payment_status": "unpaid",
			"amount_total":   5000,
			"currency":       "usd",
		},
		wantKind:  gateway.EventKindIgnored,
		wantTxn:   "cs_2",
		wantCents: 5000,
	}, {
		name:      "checkout expired",
		eventType: EventCheckoutExpired,
		object: map[string]any{
			"id":           "cs_3",
			"amount_total": 5000,
			"currency":     "usd",
		},
		wantKind:  gateway.EventKindCanceled,
		wantTxn:   "cs_3",
		wantCents: 5000,
	}, {
		name:      "intent succeeded with expanded customer",
		eventType: EventIntentSucceeded,
		object: map[string]any{
			"id":              "pi_4",
			"amount":          2500,
			"amount_received": 2500,
			"currency":        "usd",
			"customer":        map[string]any{"id": "cus_4"},
			"metadata":        metadata,
		},
		wantKind:  gateway.EventKindSucceeded,
		wantTxn:   "pi_4",
		wantCents: 2500,
	}, {
		name:      "intent failed",
		eventType: EventIntentFailed,
		object: map[string]any{
			"id":                 "pi_5",
			"amount":             2500,
			"currency":           "usd",
			"last_payment_error": map[string]any{"message": "Your card was declined."},
		},
		wantKind:  gateway.EventKindFailed,
		wantTxn:   "pi_5",
		wantCents: 2500,
		wantMsg:   "Your card was declined.",
	}, {
		name:      "intent canceled",
		eventType: EventIntentCanceled,
		object: map[string]any{
			"id":                  "pi_6",
			"amount":              2500,
			"currency":            "usd",
			"cancellation_reason": "abandoned",
		},
		wantKind:  gateway.EventKindCanceled,
		wantTxn:   "pi_6",
		wantCents: 2500,
		wantMsg:   "abandoned",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := json.Marshal(map[string]any{
				"id":      "evt_" + tt.wantTxn,
				"object":  "event",
				"type":    tt.eventType,
				"created": created,
				"data":    map[string]any{"object": tt.object},
			})
			if err != nil {
				t.Fatalf("marshal payload: %v", err)
			}

			event, err := ParseEvent(payload, SignPayload(payload, "whsec_test"), "whsec_test")
			if err != nil {
				t.Fatalf("parse event: %v", err)
			}
			if event.Kind != tt.wantKind {
				t.Fatalf("expected kind %s, got %s", tt.wantKind, event.Kind)
			}
			if event.TransactionID != tt.wantTxn {
				t.Fatalf("expected transaction %s, got %s", tt.wantTxn, event.TransactionID)
			}
			if event.Amount.Shift(2).IntPart() != tt.wantCents {
				t.Fatalf("expected %d cents, got %s", tt.wantCents, event.Amount)
			}
			if event.Currency != "USD" {
				t.Fatalf("expected currency USD, got %s", event.Currency)
			}
			if event.FailureMessage != tt.wantMsg && tt.wantMsg != "" {
				t.Fatalf("expected failure message %q, got %q", tt.wantMsg, event.FailureMessage)
			}
		})
	}
}

func TestParseEventReadsMetadataAndCustomer(t *testing.T) {
	payload := []byte(`{"id":"evt_meta","object":"event","type":"checkout.session.completed","created":1700000000,"data":{"object":{"id":"cs_9","payment_intent":{"id":"pi_9"},"payment_status":"paid","customer":null,"payment_link":"plink_9","amount_total":48000,"currency":"usd","metadata":{"receipt_number":"RCP-1","tenant_id":"77"}}}}`)

	event, err := ParseEvent(payload, SignPayload(payload, "whsec_meta"), "whsec_meta")
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	if event.TransactionID != "pi_9" {
		t.Fatalf("expected expanded intent id, got %q", event.TransactionID)
	}
	if event.CustomerID != "" || event.LinkID != "plink_9" {
		t.Fatalf("unexpected references customer=%q link=%q", event.CustomerID, event.LinkID)
	}
	if event.MetadataValue("receipt_number") != "RCP-1" || event.MetadataValue("tenant_id") != "77" {
		t.Fatalf("unexpected metadata %v", event.Metadata)
	}
	if !event.OccurredAt.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected occurred_at %s", event.OccurredAt)
	}
}

func TestParseEventRejectsMalformedObject(t *testing.T) {
	payload := []byte(`{"id":"evt_bad","object":"event","type":"payment_intent.succeeded","created":1700000000,"data":{"object":{"amount":10}}}`)
	if _, err := ParseEvent(payload, SignPayload(payload, "whsec_test"), "whsec_test"); !errors.Is(err, gateway.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   gateway.ErrorKind
	}{
		{status: 401, want: gateway.ErrorKindAuth},
		{status: 429, want: gateway.ErrorKindTransient},
		{status: 503, want: gateway.ErrorKindTransient},
		{status: 400, want: gateway.ErrorKindInvalid},
	}
	for _, tt := range tests {
		err := classify("op", &stripego.Error{HTTPStatusCode: tt.status, Msg: "boom"})
		kind, ok := gateway.ProcessorErrorKind(err)
		if !ok || kind != tt.want {
			t.Fatalf("status %d: expected %s, got %s", tt.status, tt.want, kind)
		}
	}
}
