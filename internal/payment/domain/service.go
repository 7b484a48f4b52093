package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/pkg/db/pagination"
)

// Service is the payment record store. Every status change is a single
// conditional update keyed by the record id and guarded by the current status.
type Service interface {
	CreatePending(ctx context.Context, input CreateInput) (*PaymentRecord, error)
	Validate(ctx context.Context, input CreateInput) (CreateInput, error)
	// RecordExternalPayment stores a payment that reached the processor with no
	// local record. It is idempotent on the external transaction id.
	RecordExternalPayment(ctx context.Context, input CreateInput) (*PaymentRecord, error)

	MarkPaid(ctx context.Context, input MarkPaidInput) (*PaymentRecord, error)
	MarkFailed(ctx context.Context, key string, reason string, at time.Time) (*PaymentRecord, error)
	MarkCanceled(ctx context.Context, key string, reason string, at time.Time) (*PaymentRecord, error)
	AttachCheckout(ctx context.Context, id snowflake.ID, intentID, checkoutURL string) (*PaymentRecord, error)

	Transition(ctx context.Context, receiptNumber string, req TransitionRequest) (*PaymentRecord, error)
	ApplyLateFee(ctx context.Context, receiptNumber string, fee decimal.Decimal) (*PaymentRecord, error)
	Refund(ctx context.Context, receiptNumber string, reason string) (*PaymentRecord, error)

	Get(ctx context.Context, key string) (*PaymentRecord, error)
	GetByReceipt(ctx context.Context, receiptNumber string) (*PaymentRecord, error)
	GetByExternalTransaction(ctx context.Context, transactionID string) (*PaymentRecord, error)
	FindInPeriod(ctx context.Context, tenantID snowflake.ID, paymentType PaymentType, from, to time.Time) (*PaymentRecord, error)
	ListHistory(ctx context.Context, tenantID snowflake.ID, paymentType PaymentType) ([]PaymentRecord, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)

	// Locate finds the record an inbound processor event refers to. A miss is
	// reported in the result, not as an error.
	Locate(ctx context.Context, query LocateQuery) (LocateResult, error)
}

type CreateInput struct {
	ID                    snowflake.ID
	ReceiptNumber         string
	TenantID              snowflake.ID
	PropertyID            snowflake.ID
	SpotID                *snowflake.ID
	LeaseID               *snowflake.ID
	ProcessorAccountID    *snowflake.ID
	PaymentType           PaymentType
	Amount                decimal.Decimal
	LateFeeAmount         decimal.Decimal
	Currency              string
	DueDate               time.Time
	PaidDate              *time.Time
	ExternalIntentID      string
	ExternalTransactionID string
	CheckoutURL           string
	Description           string
	Metadata              map[string]any
}

type MarkPaidInput struct {
	// Key is a receipt number, external intent id or external transaction id.
	Key           string
	PaidAt        time.Time
	TransactionID string
}

type TransitionRequest struct {
	Status PaymentStatus `json:"status"`
	Reason string        `json:"reason"`
}

type SortField string

const (
	SortByDueDate     SortField = "due_date"
	SortByCreatedAt   SortField = "created_at"
	SortByTotalAmount SortField = "total_amount"
)

type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ListRequest enumerates every supported filter. Zero values are ignored.
type ListRequest struct {
	TenantID    string
	PropertyID  string
	Status      PaymentStatus
	PaymentType PaymentType
	DueFrom     *time.Time
	DueTo       *time.Time
	SortBy      SortField
	SortOrder   SortOrder
	PageToken   string
	PageSize    int
}

type ListFilter struct {
	TenantID    snowflake.ID
	PropertyID  snowflake.ID
	Status      PaymentStatus
	PaymentType PaymentType
	DueFrom     *time.Time
	DueTo       *time.Time
	SortBy      SortField
	SortOrder   SortOrder
	Offset      int
	Limit       int
}

type ListResponse struct {
	pagination.PageInfo
	Payments []PaymentRecord `json:"payments"`
}

type LocateQuery struct {
	RecordID      string
	ReceiptNumber string
	ExternalIDs   []string
	TenantID      snowflake.ID
	PaymentType   PaymentType
	Amount        decimal.Decimal
}

type LocatePath string

const (
	LocateByMetadata LocatePath = "metadata"
	LocateByExternal LocatePath = "external_id"
	LocateByLease    LocatePath = "tenant_lease"
)

type LocateResult struct {
	Record *PaymentRecord
	Path   LocatePath
	Reason string
}

type NotificationKind string

const (
	NotificationSucceeded NotificationKind = "succeeded"
	NotificationFailed    NotificationKind = "failed"
	NotificationCanceled  NotificationKind = "canceled"
)

// Notification describes a ledger change applied from a processor event.
type Notification struct {
	Kind       NotificationKind
	EventID    string
	EventType  string
	Provider   string
	Record     PaymentRecord
	Reason     string
	OccurredAt time.Time
}

// Listener reacts to applied processor events. Listeners run after the ledger
// write has committed; their errors are logged and never reach the processor.
type Listener interface {
	Name() string
	OnPayment(ctx context.Context, n Notification) error
}
