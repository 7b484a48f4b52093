package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
)

const (
	RoutingPaymentSucceeded = "payment.succeeded"
	RoutingPaymentFailed    = "payment.failed"
	RoutingPaymentCanceled  = "payment.canceled"
)

// PaymentEvent is the message body published for every reconciled event.
type PaymentEvent struct {
	EventID       string                      `json:"event_id"`
	EventType     string                      `json:"event_type"`
	Provider      string                      `json:"provider"`
	PaymentID     string                      `json:"payment_id"`
	ReceiptNumber string                      `json:"receipt_number"`
	TenantID      string                      `json:"tenant_id"`
	PropertyID    string                      `json:"property_id"`
	PaymentType   paymentdomain.PaymentType   `json:"payment_type"`
	Status        paymentdomain.PaymentStatus `json:"status"`
	TotalAmount   decimal.Decimal             `json:"total_amount"`
	Currency      string                      `json:"currency"`
	Reason        string                      `json:"reason,omitempty"`
	OccurredAt    time.Time                   `json:"occurred_at"`
}

// Listener forwards payment notifications to the broker.
type Listener struct {
	publisher Publisher
}

func NewListener(publisher Publisher) *Listener {
	return &Listener{publisher: publisher}
}

func (l *Listener) Name() string { return "event_publisher" }

func (l *Listener) OnPayment(ctx context.Context, n paymentdomain.Notification) error {
	return l.publisher.Publish(ctx, RoutingKey(n.Kind), NewPaymentEvent(n))
}

func RoutingKey(kind paymentdomain.NotificationKind) string {
	switch kind {
	case paymentdomain.NotificationFailed:
		return RoutingPaymentFailed
	case paymentdomain.NotificationCanceled:
		return RoutingPaymentCanceled
	default:
		return RoutingPaymentSucceeded
	}
}

func NewPaymentEvent(n paymentdomain.Notification) PaymentEvent {
	r := n.Record
	return PaymentEvent{
		EventID:       n.EventID,
		EventType:     n.EventType,
		Provider:      n.Provider,
		PaymentID:     r.ID.String(),
		ReceiptNumber: r.ReceiptNumber,
		TenantID:      r.TenantID.String(),
		PropertyID:    r.PropertyID.String(),
		PaymentType:   r.PaymentType,
		Status:        r.Status,
		TotalAmount:   r.TotalAmount,
		Currency:      r.Currency,
		Reason:        n.Reason,
		OccurredAt:    n.OccurredAt.UTC(),
	}
}
