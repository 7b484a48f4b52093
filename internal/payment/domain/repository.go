package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type StatusUpdate struct {
	To            PaymentStatus
	From          []PaymentStatus
	PaidDate      *time.Time
	TransactionID *string
	Reason        *string
	Now           time.Time
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *PaymentRecord) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentRecord, error)
	FindByReceipt(ctx context.Context, db *gorm.DB, receiptNumber string) (*PaymentRecord, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*PaymentRecord, error)
	FindByExternalTransaction(ctx context.Context, db *gorm.DB, transactionID string) (*PaymentRecord, error)
	FindInPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentType PaymentType, from, to time.Time) (*PaymentRecord, error)
	FindOldestCollectible(ctx context.Context, db *gorm.DB, tenantID, leaseID snowflake.ID, paymentType PaymentType, total *decimal.Decimal) (*PaymentRecord, error)
	ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentType PaymentType, statuses []PaymentStatus, order SortOrder, limit int) ([]PaymentRecord, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]PaymentRecord, error)

	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update StatusUpdate) (bool, error)
	RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time, statuses []PaymentStatus) (bool, error)
	UpdateLateFee(ctx context.Context, db *gorm.DB, id snowflake.ID, fee decimal.Decimal, statuses []PaymentStatus, now time.Time) (bool, error)
	UpdateCheckout(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID, checkoutURL string, now time.Time) (bool, error)
	ListPendingDueBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]PaymentRecord, error)
	MarkOverdue(ctx context.Context, db *gorm.DB, id snowflake.ID, lateFee decimal.Decimal, now time.Time) (bool, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error
}
