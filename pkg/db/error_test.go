package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestIsDuplicateKeyErr(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_processor_accounts_slug"}

	assert.True(t, IsDuplicateKeyErr(gorm.ErrDuplicatedKey))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", pgErr)))
	assert.True(t, IsDuplicateKeyErr(errors.New("constraint failed: UNIQUE constraint failed: payment_records.receipt_number (2067)")))
	assert.False(t, IsDuplicateKeyErr(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsDuplicateKeyErr(nil))
}

func TestConstraintName(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_processor_accounts_slug"}
	assert.Equal(t, "ux_processor_accounts_slug", ConstraintName(pgErr))
	assert.Equal(t, "payment_records.receipt_number", ConstraintName(errors.New("constraint failed: UNIQUE constraint failed: payment_records.receipt_number (2067)")))
}
