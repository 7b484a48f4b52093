package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type PaymentType string

const (
	PaymentTypeRent        PaymentType = "RENT"
	PaymentTypeDeposit     PaymentType = "DEPOSIT"
	PaymentTypeLateFee     PaymentType = "LATE_FEE"
	PaymentTypeMaintenance PaymentType = "MAINTENANCE"
	PaymentTypeOther       PaymentType = "OTHER"
)

func (t PaymentType) Valid() bool {
	switch t {
	case PaymentTypeRent, PaymentTypeDeposit, PaymentTypeLateFee, PaymentTypeMaintenance, PaymentTypeOther:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusPaid      PaymentStatus = "PAID"
	PaymentStatusOverdue   PaymentStatus = "OVERDUE"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusPartial   PaymentStatus = "PARTIAL"
)

func (s PaymentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Collectible statuses can still be paid, failed or cancelled.
func (s PaymentStatus) Collectible() bool {
	return s == PaymentStatusPending || s == PaymentStatusOverdue || s == PaymentStatusPartial
}

var transitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusPaid, PaymentStatusOverdue, PaymentStatusCancelled},
	PaymentStatusOverdue:   {PaymentStatusPaid, PaymentStatusCancelled},
	PaymentStatusPaid:      {PaymentStatusRefunded},
	PaymentStatusPartial:   {PaymentStatusPaid, PaymentStatusOverdue, PaymentStatusCancelled},
	PaymentStatusCancelled: nil,
	PaymentStatusRefunded:  nil,
}

func CanTransition(from, to PaymentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor lists the statuses that may move to target.
func SourcesFor(target PaymentStatus) []PaymentStatus {
	var out []PaymentStatus
	for _, from := range []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusOverdue,
		PaymentStatusPaid,
		PaymentStatusPartial,
	} {
		if CanTransition(from, target) {
			out = append(out, from)
		}
	}
	return out
}

type PaymentRecord struct {
	ID                    snowflake.ID      `json:"id"`
	ReceiptNumber         string            `json:"receipt_number"`
	TenantID              snowflake.ID      `json:"tenant_id"`
	PropertyID            snowflake.ID      `json:"property_id"`
	SpotID                *snowflake.ID     `json:"spot_id,omitempty"`
	LeaseID               *snowflake.ID     `json:"lease_id,omitempty"`
	ProcessorAccountID    *snowflake.ID     `json:"processor_account_id,omitempty"`
	PaymentType           PaymentType       `json:"payment_type"`
	Status                PaymentStatus     `json:"status"`
	Amount                decimal.Decimal   `json:"amount"`
	LateFeeAmount         decimal.Decimal   `json:"late_fee_amount"`
	TotalAmount           decimal.Decimal   `json:"total_amount"`
	Currency              string            `json:"currency"`
	DueDate               time.Time         `json:"due_date"`
	PaidDate              *time.Time        `json:"paid_date,omitempty"`
	ExternalIntentID      *string           `json:"external_intent_id,omitempty"`
	ExternalTransactionID *string           `json:"external_transaction_id,omitempty"`
	CheckoutURL           *string           `json:"checkout_url,omitempty"`
	StatusReason          *string           `json:"status_reason,omitempty"`
	FailedAt              *time.Time        `json:"failed_at,omitempty"`
	FailureCount          int               `json:"failure_count"`
	Description           string            `json:"description"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty"`
	IsDeleted             bool              `json:"-"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func (r PaymentRecord) HasTransaction(id string) bool {
	return r.ExternalTransactionID != nil && id != "" && *r.ExternalTransactionID == id
}

// EventRecord is one verified processor notification.
type EventRecord struct {
	ID              snowflake.ID   `json:"id"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id"`
	AccountID       *snowflake.ID  `json:"account_id,omitempty"`
	EventType       string         `json:"event_type"`
	ObjectID        *string        `json:"object_id,omitempty"`
	Outcome         string         `json:"outcome"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeUnmatched = "unmatched"
)
