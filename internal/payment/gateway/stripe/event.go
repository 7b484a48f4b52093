package stripe

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/stripe/stripe-go/v82/webhook"
)

const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired        = "checkout.session.expired"
	EventIntentSucceeded        = "payment_intent.succeeded"
	EventIntentFailed           = "payment_intent.payment_failed"
	EventIntentCanceled         = "payment_intent.canceled"
)

type checkoutSession struct {
	ID            string            `json:"id"`
	PaymentIntent json.RawMessage   `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	Customer      json.RawMessage   `json:"customer"`
	PaymentLink   json.RawMessage   `json:"payment_link"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
	Created       int64             `json:"created"`
}

type paymentIntent struct {
	ID                 string            `json:"id"`
	Amount             int64             `json:"amount"`
	AmountReceived     int64             `json:"amount_received"`
	Currency           string            `json:"currency"`
	Customer           json.RawMessage   `json:"customer"`
	Metadata           map[string]string `json:"metadata"`
	Created            int64             `json:"created"`
	CancellationReason string            `json:"cancellation_reason"`
	LastPaymentError   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"last_payment_error"`
}

// ParseEvent verifies a Stripe-Signature header against secret and maps the
// event onto the ledger's vocabulary. Unknown types come back as
// EventKindIgnored rather than an error.
func ParseEvent(payload []byte, signature, secret string) (gateway.Event, error) {
	secret = strings.TrimSpace(secret)
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return gateway.Event{}, gateway.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return gateway.Event{}, gateway.ErrInvalidSignature
		}
		return gateway.Event{}, gateway.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return gateway.Event{}, gateway.ErrInvalidPayload
	}

	out := gateway.Event{
		ID:         event.ID,
		Type:       string(event.Type),
		Kind:       gateway.EventKindIgnored,
		OccurredAt: timestamp(0, event.Created),
		Payload:    payload,
	}

	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch out.Type {
	case EventCheckoutCompleted, EventCheckoutAsyncSucceeded, EventCheckoutAsyncFailed, EventCheckoutExpired:
		return mapCheckoutSession(out, raw, event.Created)
	case EventIntentSucceeded, EventIntentFailed, EventIntentCanceled:
		return mapPaymentIntent(out, raw, event.Created)
	default:
		return out, nil
	}
}

func mapCheckoutSession(out gateway.Event, raw json.RawMessage, created int64) (gateway.Event, error) {
	var session checkoutSession
	if err := json.Unmarshal(raw, &session); err != nil || strings.TrimSpace(session.ID) == "" {
		return gateway.Event{}, gateway.ErrInvalidPayload
	}

	out.ObjectID = session.ID
	out.TransactionID = expandableID(session.PaymentIntent)
	if out.TransactionID == "" {
		out.TransactionID = session.ID
	}
	out.CustomerID = expandableID(session.Customer)
	out.LinkID = expandableID(session.PaymentLink)
	out.Amount = decimal.New(session.AmountTotal, -2)
	out.Currency = strings.ToUpper(strings.TrimSpace(session.Currency))
	out.Metadata = session.Metadata
	out.OccurredAt = timestamp(session.Created, created)

	switch out.Type {
	case EventCheckoutCompleted:
		// Delayed methods complete the session unpaid and settle later via
		// async_payment_succeeded.
		if session.PaymentStatus == "paid" || session.PaymentStatus == "no_payment_required" {
			out.Kind = gateway.EventKindSucceeded
		}
	case EventCheckoutAsyncSucceeded:
		out.Kind = gateway.EventKindSucceeded
	case EventCheckoutAsyncFailed:
		out.Kind = gateway.EventKindFailed
		out.FailureMessage = "asynchronous payment failed"
	case EventCheckoutExpired:
		out.Kind = gateway.EventKindCanceled
	}
	return out, nil
}

func mapPaymentIntent(out gateway.Event, raw json.RawMessage, created int64) (gateway.Event, error) {
	var intent paymentIntent
	if err := json.Unmarshal(raw, &intent); err != nil || strings.TrimSpace(intent.ID) == "" {
		return gateway.Event{}, gateway.ErrInvalidPayload
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	out.ObjectID = intent.ID
	out.TransactionID = intent.ID
	out.CustomerID = expandableID(intent.Customer)
	out.Amount = decimal.New(amount, -2)
	out.Currency = strings.ToUpper(strings.TrimSpace(intent.Currency))
	out.Metadata = intent.Metadata
	out.OccurredAt = timestamp(intent.Created, created)

	switch out.Type {
	case EventIntentSucceeded:
		out.Kind = gateway.EventKindSucceeded
	case EventIntentFailed:
		out.Kind = gateway.EventKindFailed
		if intent.LastPaymentError != nil {
			out.FailureMessage = strings.TrimSpace(intent.LastPaymentError.Message)
		}
		if out.FailureMessage == "" {
			out.FailureMessage = "payment failed"
		}
	case EventIntentCanceled:
		out.Kind = gateway.EventKindCanceled
		out.FailureMessage = intent.CancellationReason
	}
	return out, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// expandableID reads an object reference that is either an id string or an
// expanded object carrying an id.
func expandableID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var id string
		if err := json.Unmarshal(raw, &id); err != nil {
			return ""
		}
		return strings.TrimSpace(id)
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	return strings.TrimSpace(obj.ID)
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}
