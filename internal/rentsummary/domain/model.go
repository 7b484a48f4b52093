package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
)

// LeaseInfo is the slice of the active lease shown alongside payments.
type LeaseInfo struct {
	ID         snowflake.ID    `json:"id"`
	PropertyID snowflake.ID    `json:"property_id"`
	SpotID     *snowflake.ID   `json:"spot_id,omitempty"`
	RentAmount decimal.Decimal `json:"rent_amount"`
	LeaseStart time.Time       `json:"lease_start"`
	LeaseEnd   *time.Time      `json:"lease_end,omitempty"`
}

// CurrentMonth describes the rent record due in the month containing now.
type CurrentMonth struct {
	Payment     paymentdomain.PaymentRecord `json:"payment"`
	Status      paymentdomain.PaymentStatus `json:"status"`
	DaysOverdue int                         `json:"days_overdue"`
	PaymentURL  string                      `json:"payment_url,omitempty"`
}

type Totals struct {
	OverdueAmount     decimal.Decimal `json:"overdue_amount"`
	OverdueCount      int             `json:"overdue_count"`
	PendingCount      int             `json:"pending_count"`
	RecentPaidTotal   decimal.Decimal `json:"recent_paid_total"`
	RecentPaidAverage decimal.Decimal `json:"recent_paid_average"`
}

// Summary is rebuilt from leases and payment records on demand and is never
// written back to the database.
type Summary struct {
	TenantID      snowflake.ID                  `json:"tenant_id"`
	NoActiveLease bool                          `json:"no_active_lease"`
	Lease         *LeaseInfo                    `json:"lease,omitempty"`
	CurrentMonth  *CurrentMonth                 `json:"current_month,omitempty"`
	Outstanding   []paymentdomain.PaymentRecord `json:"outstanding"`
	RecentPaid    []paymentdomain.PaymentRecord `json:"recent_paid"`
	Totals        Totals                        `json:"totals"`
	GeneratedAt   time.Time                     `json:"generated_at"`
}

type Service interface {
	// Get returns the summary, served from cache when fresh.
	Get(ctx context.Context, tenantID string) (*Summary, error)
	// Refresh rebuilds the summary and replaces the cached copy.
	Refresh(ctx context.Context, tenantID snowflake.ID) (*Summary, error)
	Invalidate(ctx context.Context, tenantID snowflake.ID) error
}
