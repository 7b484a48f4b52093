package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const accountColumns = `id, name, slug, provider, secret_ciphertext, webhook_secret_ciphertext,
	external_account_id, webhook_endpoint_id, webhook_url, webhook_status,
	is_active, is_verified, is_global_account, is_default_account,
	verified_at, deleted_at, created_at, updated_at`

const joinedAccountColumns = `pa.id, pa.name, pa.slug, pa.provider, pa.secret_ciphertext, pa.webhook_secret_ciphertext,
	pa.external_account_id, pa.webhook_endpoint_id, pa.webhook_url, pa.webhook_status,
	pa.is_active, pa.is_verified, pa.is_global_account, pa.is_default_account,
	pa.verified_at, pa.deleted_at, pa.created_at, pa.updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, account *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO processor_accounts (
			id, name, slug, provider, secret_ciphertext, webhook_secret_ciphertext,
			external_account_id, webhook_endpoint_id, webhook_url, webhook_status,
			is_active, is_verified, is_global_account, is_default_account,
			verified_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		account.ID,
		account.Name,
		account.Slug,
		account.Provider,
		account.SecretCiphertext,
		account.WebhookSecretCiphertext,
		account.ExternalAccountID,
		account.WebhookEndpointID,
		account.WebhookURL,
		account.WebhookStatus,
		account.IsActive,
		account.IsVerified,
		account.IsGlobalAccount,
		account.IsDefaultAccount,
		account.VerifiedAt,
		account.CreatedAt,
		account.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, includeDeleted bool) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM processor_accounts WHERE id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	return scanOne(db.WithContext(ctx).Raw(query, id))
}

func (r *repo) List(ctx context.Context, db *gorm.DB, includeDeleted bool) ([]domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM processor_accounts`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var accounts []domain.Account
	if err := db.WithContext(ctx).Raw(query).Scan(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *repo) ListPropertyIDs(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT property_id FROM processor_account_properties
		 WHERE account_id = ?
		 ORDER BY property_id ASC`,
		accountID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) UpdateSecret(ctx context.Context, db *gorm.DB, id snowflake.ID, ciphertext string, verifiedAt time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts
		 SET secret_ciphertext = ?, is_verified = TRUE, verified_at = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		ciphertext,
		verifiedAt,
		verifiedAt,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.WebhookUpdate, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts
		 SET webhook_endpoint_id = COALESCE(?, webhook_endpoint_id),
		     webhook_url = COALESCE(?, webhook_url),
		     webhook_secret_ciphertext = COALESCE(?, webhook_secret_ciphertext),
		     webhook_status = ?,
		     updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		update.EndpointID,
		update.URL,
		update.SecretCiphertext,
		update.Status,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts SET is_active = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		active,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) ClearDefault(ctx context.Context, db *gorm.DB, exceptID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE processor_accounts SET is_default_account = FALSE, updated_at = ?
		 WHERE is_default_account = TRUE AND id <> ?`,
		now,
		exceptID,
	).Error
}

func (r *repo) MarkDefault(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts SET is_default_account = TRUE, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindAssignment(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (snowflake.ID, error) {
	var accountID snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT account_id FROM processor_account_properties WHERE property_id = ?`,
		propertyID,
	).Scan(&accountID).Error
	if err != nil {
		return 0, err
	}
	return accountID, nil
}

func (r *repo) InsertAssignment(ctx context.Context, db *gorm.DB, accountID, propertyID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO processor_account_properties (account_id, property_id, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (account_id, property_id) DO NOTHING`,
		accountID,
		propertyID,
		now,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts
		 SET deleted_at = ?, is_default_account = FALSE, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		now,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Restore(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE processor_accounts SET deleted_at = NULL, updated_at = ?
		 WHERE id = ? AND deleted_at IS NOT NULL`,
		now,
		id,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindUsableForProperty(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (*domain.Account, error) {
	return scanOne(db.WithContext(ctx).Raw(
		`SELECT `+joinedAccountColumns+`
		 FROM processor_accounts pa
		 JOIN processor_account_properties pap ON pap.account_id = pa.id
		 WHERE pap.property_id = ?
		   AND pa.is_active = TRUE AND pa.is_verified = TRUE AND pa.deleted_at IS NULL
		 LIMIT 1`,
		propertyID,
	))
}

func (r *repo) FindUsableGlobal(ctx context.Context, db *gorm.DB) (*domain.Account, error) {
	return scanOne(db.WithContext(ctx).Raw(
		`SELECT ` + accountColumns + `
		 FROM processor_accounts
		 WHERE is_global_account = TRUE
		   AND is_active = TRUE AND is_verified = TRUE AND deleted_at IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
	))
}

func (r *repo) FindDefault(ctx context.Context, db *gorm.DB) (*domain.Account, error) {
	return scanOne(db.WithContext(ctx).Raw(
		`SELECT ` + accountColumns + `
		 FROM processor_accounts
		 WHERE is_default_account = TRUE AND is_active = TRUE AND deleted_at IS NULL
		 LIMIT 1`,
	))
}

func (r *repo) ListWithWebhookSecret(ctx context.Context, db *gorm.DB) ([]domain.Account, error) {
	var accounts []domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT ` + accountColumns + `
		 FROM processor_accounts
		 WHERE webhook_secret_ciphertext IS NOT NULL AND webhook_secret_ciphertext <> ''
		   AND deleted_at IS NULL
		 ORDER BY id ASC`,
	).Scan(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func scanOne(stmt *gorm.DB) (*domain.Account, error) {
	var account domain.Account
	if err := stmt.Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}
