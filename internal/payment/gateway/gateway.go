// Package gateway is the seam between the ledger and an external payment
// processor. Implementations are built per processor account from freshly
// decrypted credentials and must not be cached across operations.
package gateway

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Credentials struct {
	AccountID         snowflake.ID
	SecretKey         string
	WebhookSecret     string
	ExternalAccountID string
}

type Gateway interface {
	// VerifyCredential makes a cheap authenticated call to prove the secret works.
	VerifyCredential(ctx context.Context) error
	// EnsureWebhook registers the callback URL, reusing an existing endpoint for
	// the same URL when its signing secret is already known.
	EnsureWebhook(ctx context.Context, req WebhookRequest) (WebhookEndpoint, error)
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// ParseEvent verifies the signature over the raw payload with the
	// credential's webhook secret and maps the event. It returns
	// ErrInvalidSignature when the secret does not match.
	ParseEvent(payload []byte, signature string) (Event, error)
}

type Factory interface {
	Provider() string
	New(creds Credentials) (Gateway, error)
}

type WebhookRequest struct {
	URL             string
	Events          []string
	KnownEndpointID string
	HasSecret       bool
}

type WebhookEndpoint struct {
	ID     string
	Secret string
	Status string
	Reused bool
}

type CheckoutRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Name        string
	Description string
	SuccessURL  string
	CancelURL   string
	CustomerID  string
	Metadata    map[string]string
	// IdempotencyKey lets a timed-out issuance be retried without a second artifact.
	IdempotencyKey string
}

type Checkout struct {
	ID       string
	URL      string
	IntentID string
}

type EventKind string

const (
	EventKindSucceeded EventKind = "succeeded"
	EventKindFailed    EventKind = "failed"
	EventKindCanceled  EventKind = "canceled"
	EventKindIgnored   EventKind = "ignored"
)

// Event is a verified processor notification in ledger terms.
type Event struct {
	ID             string
	Type           string
	Kind           EventKind
	ObjectID       string
	TransactionID  string
	CustomerID     string
	LinkID         string
	Amount         decimal.Decimal
	Currency       string
	Metadata       map[string]string
	FailureMessage string
	OccurredAt     time.Time
	Payload        []byte
}

func (e Event) MetadataValue(key string) string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}
