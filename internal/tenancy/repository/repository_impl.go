package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const tenantColumns = `id, name, email, phone, status, processor_customer_id, payment_link_id, deleted_at, created_at, updated_at`

func (r *repo) FindTenant(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Tenant, error) {
	var tenant domain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+`
		 FROM tenants WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}

// FindTenantByProcessorRef matches either the processor customer id or the
// payment link id recorded on the tenant.
func (r *repo) FindTenantByProcessorRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Tenant, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	var tenant domain.Tenant
	err := db.WithContext(ctx).Raw(
		`SELECT `+tenantColumns+`
		 FROM tenants
		 WHERE (processor_customer_id = ? OR payment_link_id = ?) AND deleted_at IS NULL
		 ORDER BY id ASC
		 LIMIT 1`,
		ref,
		ref,
	).Scan(&tenant).Error
	if err != nil {
		return nil, err
	}
	if tenant.ID == 0 {
		return nil, nil
	}
	return &tenant, nil
}

func (r *repo) FindProperty(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Property, error) {
	var property domain.Property
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, address, is_active, deleted_at, created_at, updated_at
		 FROM properties WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&property).Error
	if err != nil {
		return nil, err
	}
	if property.ID == 0 {
		return nil, nil
	}
	return &property, nil
}

func (r *repo) FindSpot(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Spot, error) {
	var spot domain.Spot
	err := db.WithContext(ctx).Raw(
		`SELECT id, property_id, label, deleted_at, created_at
		 FROM spots WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&spot).Error
	if err != nil {
		return nil, err
	}
	if spot.ID == 0 {
		return nil, nil
	}
	return &spot, nil
}

const leaseColumns = `id, tenant_id, property_id, spot_id, rent_amount, lease_start, lease_end, lease_status, deleted_at, created_at, updated_at`

func (r *repo) FindLease(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Lease, error) {
	var lease domain.Lease
	err := db.WithContext(ctx).Raw(
		`SELECT `+leaseColumns+`
		 FROM leases WHERE id = ? AND deleted_at IS NULL`,
		id,
	).Scan(&lease).Error
	if err != nil {
		return nil, err
	}
	if lease.ID == 0 {
		return nil, nil
	}
	return &lease, nil
}

func (r *repo) FindActiveLeaseForTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*domain.Lease, error) {
	var lease domain.Lease
	err := db.WithContext(ctx).Raw(
		`SELECT `+leaseColumns+`
		 FROM leases
		 WHERE tenant_id = ? AND lease_status = ? AND deleted_at IS NULL
		 ORDER BY lease_start DESC
		 LIMIT 1`,
		tenantID,
		domain.LeaseStatusActive,
	).Scan(&lease).Error
	if err != nil {
		return nil, err
	}
	if lease.ID == 0 {
		return nil, nil
	}
	return &lease, nil
}
