package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, includeDeleted bool) (*Account, error)
	List(ctx context.Context, db *gorm.DB, includeDeleted bool) ([]Account, error)
	ListPropertyIDs(ctx context.Context, db *gorm.DB, accountID snowflake.ID) ([]snowflake.ID, error)

	UpdateSecret(ctx context.Context, db *gorm.DB, id snowflake.ID, ciphertext string, verifiedAt time.Time) (bool, error)
	UpdateWebhook(ctx context.Context, db *gorm.DB, id snowflake.ID, update WebhookUpdate, now time.Time) (bool, error)
	UpdateActive(ctx context.Context, db *gorm.DB, id snowflake.ID, active bool, now time.Time) (bool, error)
	ClearDefault(ctx context.Context, db *gorm.DB, exceptID snowflake.ID, now time.Time) error
	MarkDefault(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	FindAssignment(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (snowflake.ID, error)
	InsertAssignment(ctx context.Context, db *gorm.DB, accountID, propertyID snowflake.ID, now time.Time) error

	SoftDelete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Restore(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)

	FindUsableForProperty(ctx context.Context, db *gorm.DB, propertyID snowflake.ID) (*Account, error)
	FindUsableGlobal(ctx context.Context, db *gorm.DB) (*Account, error)
	FindDefault(ctx context.Context, db *gorm.DB) (*Account, error)
	ListWithWebhookSecret(ctx context.Context, db *gorm.DB) ([]Account, error)
}
