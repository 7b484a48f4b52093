package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Quote is the next rent charge for a lease.
type Quote struct {
	TenantID           snowflake.ID    `json:"tenant_id"`
	LeaseID            snowflake.ID    `json:"lease_id"`
	PropertyID         snowflake.ID    `json:"property_id"`
	SpotID             *snowflake.ID   `json:"spot_id,omitempty"`
	DueDate            time.Time       `json:"due_date"`
	Amount             decimal.Decimal `json:"amount"`
	Description        string          `json:"description"`
	IsFirstTimePayment bool            `json:"is_first_time_payment"`
	IsProrated         bool            `json:"is_prorated"`
	PeriodStart        time.Time       `json:"period_start"`
	PeriodEnd          time.Time       `json:"period_end"`
}

type Service interface {
	// Quote computes the next rent charge as of ref. A zero ref means now.
	Quote(ctx context.Context, tenantID snowflake.ID, ref time.Time) (Quote, error)
	// EnsurePeriodFree fails with a duplicate-period error when a live rent
	// record is already due in the month containing due.
	EnsurePeriodFree(ctx context.Context, tenantID snowflake.ID, due time.Time) error
}
