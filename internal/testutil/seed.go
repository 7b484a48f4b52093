package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fixture is one tenant renting one spot at one property.
type Fixture struct {
	TenantID   snowflake.ID
	PropertyID snowflake.ID
	SpotID     snowflake.ID
	LeaseID    snowflake.ID
	Rent       decimal.Decimal
	LeaseStart time.Time
}

type FixtureOption func(*fixtureOptions)

type fixtureOptions struct {
	rent        decimal.Decimal
	leaseStart  time.Time
	leaseEnd    *time.Time
	leaseStatus string
	tenantEmail string
	customerID  string
}

func WithRent(rent string) FixtureOption {
	return func(o *fixtureOptions) { o.rent = decimal.RequireFromString(rent) }
}

func WithLeaseStart(start time.Time) FixtureOption {
	return func(o *fixtureOptions) { o.leaseStart = start }
}

func WithLeaseEnd(end time.Time) FixtureOption {
	return func(o *fixtureOptions) { o.leaseEnd = &end }
}

func WithLeaseStatus(status string) FixtureOption {
	return func(o *fixtureOptions) { o.leaseStatus = status }
}

func WithProcessorCustomer(customerID string) FixtureOption {
	return func(o *fixtureOptions) { o.customerID = customerID }
}

func SeedFixture(t *testing.T, db *gorm.DB, node *snowflake.Node, opts ...FixtureOption) Fixture {
	t.Helper()

	o := fixtureOptions{
		rent:        decimal.RequireFromString("1500.00"),
		leaseStart:  Date(2024, time.January, 1),
		leaseStatus: "ACTIVE",
		tenantEmail: "tenant@example.com",
	}
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	f := Fixture{
		TenantID:   node.Generate(),
		PropertyID: node.Generate(),
		SpotID:     node.Generate(),
		LeaseID:    node.Generate(),
		Rent:       o.rent,
		LeaseStart: o.leaseStart,
	}

	var customerID any
	if o.customerID != "" {
		customerID = o.customerID
	}

	mustExec(t, db,
		`INSERT INTO tenants (id, name, email, phone, status, processor_customer_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TenantID, "Jamie Rivera", o.tenantEmail, "555-0100", "ACTIVE", customerID, now, now,
	)
	mustExec(t, db,
		`INSERT INTO properties (id, name, address, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		f.PropertyID, "Cedar Court", "12 Cedar Ct", true, now, now,
	)
	mustExec(t, db,
		`INSERT INTO spots (id, property_id, label, created_at) VALUES (?, ?, ?, ?)`,
		f.SpotID, f.PropertyID, "A-1", now,
	)
	mustExec(t, db,
		`INSERT INTO leases (id, tenant_id, property_id, spot_id, rent_amount, lease_start, lease_end, lease_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.LeaseID, f.TenantID, f.PropertyID, f.SpotID, o.rent, o.leaseStart, o.leaseEnd, o.leaseStatus, now, now,
	)
	return f
}

// SeedProperty inserts an extra active property.
func SeedProperty(t *testing.T, db *gorm.DB, node *snowflake.Node, name string) snowflake.ID {
	t.Helper()
	id := node.Generate()
	now := time.Now().UTC()
	mustExec(t, db,
		`INSERT INTO properties (id, name, address, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, "", true, now, now,
	)
	return id
}

// PaymentSeed describes a payment row inserted directly, bypassing validation.
type PaymentSeed struct {
	ID                    snowflake.ID
	Receipt               string
	Type                  string
	Status                string
	Amount                decimal.Decimal
	LateFee               decimal.Decimal
	DueDate               time.Time
	PaidDate              *time.Time
	ExternalIntentID      string
	ExternalTransactionID string
	ProcessorAccountID    *snowflake.ID
	CreatedAt             time.Time
}

func SeedPayment(t *testing.T, db *gorm.DB, node *snowflake.Node, f Fixture, p PaymentSeed) snowflake.ID {
	t.Helper()
	if p.ID == 0 {
		p.ID = node.Generate()
	}
	if p.Receipt == "" {
		p.Receipt = "RCP-" + p.ID.String()
	}
	if p.Type == "" {
		p.Type = "RENT"
	}
	if p.Status == "" {
		p.Status = "PENDING"
	}
	if p.Amount.IsZero() {
		p.Amount = f.Rent
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	var intent, txn any
	if p.ExternalIntentID != "" {
		intent = p.ExternalIntentID
	}
	if p.ExternalTransactionID != "" {
		txn = p.ExternalTransactionID
	}

	mustExec(t, db,
		`INSERT INTO payment_records (
			id, receipt_number, tenant_id, property_id, spot_id, lease_id, processor_account_id,
			payment_type, status, amount, late_fee_amount, total_amount, currency,
			due_date, paid_date, external_intent_id, external_transaction_id,
			description, metadata, is_deleted, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Receipt, f.TenantID, f.PropertyID, f.SpotID, f.LeaseID, p.ProcessorAccountID,
		p.Type, p.Status, p.Amount, p.LateFee, p.Amount.Add(p.LateFee), "usd",
		p.DueDate, p.PaidDate, intent, txn,
		"", "{}", false, p.CreatedAt, p.CreatedAt,
	)
	return p.ID
}

func mustExec(t *testing.T, db *gorm.DB, query string, args ...any) {
	t.Helper()
	if err := db.Exec(query, args...).Error; err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}
