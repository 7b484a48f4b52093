package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	demoPropertyName    = "Demo Residences"
	demoPropertyAddress = "1 Demo Way"
	demoSpotLabel       = "101"
	demoTenantName      = "Demo Tenant"
	demoTenantEmail     = "tenant@rentwise.local"
)

var demoRent = decimal.RequireFromString("1200.00")

var Module = fx.Module("seed",
	fx.Invoke(func(lc fx.Lifecycle, db *gorm.DB, node *snowflake.Node, cfg config.Config, log *zap.Logger) {
		if !cfg.SeedDemo || cfg.IsProduction() {
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				tenantID, err := EnsureDemoPortfolio(ctx, db, node, time.Now().UTC())
				if err != nil {
					return err
				}
				log.Info("demo portfolio ready", zap.String("tenant_id", tenantID.String()))
				return nil
			},
		})
	}),
)

// EnsureDemoPortfolio inserts one property, spot, tenant and active lease
// starting on the first of now's month. It returns the existing tenant when
// the demo data is already present.
func EnsureDemoPortfolio(ctx context.Context, db *gorm.DB, node *snowflake.Node, now time.Time) (snowflake.ID, error) {
	if db == nil {
		return 0, errors.New("seed database handle is required")
	}
	if node == nil {
		return 0, errors.New("seed id generator is required")
	}

	var tenantID snowflake.ID
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findDemoTenant(ctx, tx)
		if err != nil {
			return err
		}
		if existing != 0 {
			tenantID = existing
			return nil
		}

		propertyID, err := ensureDemoPropertyTx(ctx, tx, node, now)
		if err != nil {
			return err
		}
		spotID := node.Generate()
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO spots (id, property_id, label, created_at) VALUES (?, ?, ?, ?)`,
			spotID, propertyID, demoSpotLabel, now,
		).Error; err != nil {
			return err
		}

		tenantID = node.Generate()
		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO tenants (id, name, email, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			tenantID, demoTenantName, demoTenantEmail, "ACTIVE", now, now,
		).Error; err != nil {
			return err
		}

		leaseStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return tx.WithContext(ctx).Exec(
			`INSERT INTO leases (id, tenant_id, property_id, spot_id, rent_amount, lease_start, lease_status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			node.Generate(), tenantID, propertyID, spotID, demoRent, leaseStart, "ACTIVE", now, now,
		).Error
	})
	if err != nil {
		return 0, err
	}
	return tenantID, nil
}

func findDemoTenant(ctx context.Context, tx *gorm.DB) (snowflake.ID, error) {
	var id int64
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM tenants WHERE email = ? AND deleted_at IS NULL ORDER BY id ASC LIMIT 1`,
		demoTenantEmail,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	return snowflake.ID(id), nil
}

func ensureDemoPropertyTx(ctx context.Context, tx *gorm.DB, node *snowflake.Node, now time.Time) (snowflake.ID, error) {
	var id int64
	err := tx.WithContext(ctx).Raw(
		`SELECT id FROM properties WHERE name = ? AND deleted_at IS NULL ORDER BY id ASC LIMIT 1`,
		demoPropertyName,
	).Scan(&id).Error
	if err != nil {
		return 0, err
	}
	if id != 0 {
		return snowflake.ID(id), nil
	}

	propertyID := node.Generate()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO properties (id, name, address, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		propertyID, demoPropertyName, demoPropertyAddress, true, now, now,
	).Error; err != nil {
		return 0, err
	}
	return propertyID, nil
}
