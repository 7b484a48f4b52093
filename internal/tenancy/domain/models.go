package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TenantStatus string

const (
	TenantStatusActive   TenantStatus = "ACTIVE"
	TenantStatusInactive TenantStatus = "INACTIVE"
)

type LeaseStatus string

const (
	LeaseStatusActive     LeaseStatus = "ACTIVE"
	LeaseStatusPending    LeaseStatus = "PENDING"
	LeaseStatusTerminated LeaseStatus = "TERMINATED"
	LeaseStatusExpired    LeaseStatus = "EXPIRED"
)

var (
	ErrTenantNotFound   = errors.New("tenant_not_found")
	ErrPropertyNotFound = errors.New("property_not_found")
	ErrSpotNotFound     = errors.New("spot_not_found")
	ErrLeaseNotFound    = errors.New("lease_not_found")
)

type Tenant struct {
	ID                  snowflake.ID `json:"id"`
	Name                string       `json:"name"`
	Email               string       `json:"email"`
	Phone               string       `json:"phone,omitempty"`
	Status              TenantStatus `json:"status"`
	ProcessorCustomerID *string      `json:"processor_customer_id,omitempty"`
	PaymentLinkID       *string      `json:"payment_link_id,omitempty"`
	DeletedAt           *time.Time   `json:"-"`
	CreatedAt           time.Time    `json:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at"`
}

// Active reports whether the tenant can be billed.
func (t Tenant) Active() bool {
	return t.DeletedAt == nil && t.Status == TenantStatusActive
}

type Property struct {
	ID        snowflake.ID `json:"id"`
	Name      string       `json:"name"`
	Address   string       `json:"address"`
	IsActive  bool         `json:"is_active"`
	DeletedAt *time.Time   `json:"-"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (p Property) Active() bool {
	return p.DeletedAt == nil && p.IsActive
}

type Spot struct {
	ID         snowflake.ID `json:"id"`
	PropertyID snowflake.ID `json:"property_id"`
	Label      string       `json:"label"`
	DeletedAt  *time.Time   `json:"-"`
	CreatedAt  time.Time    `json:"created_at"`
}

type Lease struct {
	ID          snowflake.ID    `json:"id"`
	TenantID    snowflake.ID    `json:"tenant_id"`
	PropertyID  snowflake.ID    `json:"property_id"`
	SpotID      *snowflake.ID   `json:"spot_id,omitempty"`
	RentAmount  decimal.Decimal `json:"rent_amount"`
	LeaseStart  time.Time       `json:"lease_start"`
	LeaseEnd    *time.Time      `json:"lease_end,omitempty"`
	LeaseStatus LeaseStatus     `json:"lease_status"`
	DeletedAt   *time.Time      `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Covers reports whether date falls in [LeaseStart, LeaseEnd). An open-ended
// lease covers every date on or after its start.
func (l Lease) Covers(date time.Time) bool {
	if date.Before(l.LeaseStart) {
		return false
	}
	if l.LeaseEnd != nil && !date.Before(*l.LeaseEnd) {
		return false
	}
	return true
}

// Repository is the read model over tenants, properties, spots and leases.
// Their lifecycle is owned elsewhere; every finder skips soft-deleted rows
// and returns nil, nil when nothing matches.
type Repository interface {
	FindTenant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindTenantByProcessorRef(ctx context.Context, db *gorm.DB, ref string) (*Tenant, error)
	FindProperty(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Property, error)
	FindSpot(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Spot, error)
	FindLease(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Lease, error)
	FindActiveLeaseForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*Lease, error)
}
