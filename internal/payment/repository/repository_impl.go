package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const recordColumns = `id, receipt_number, tenant_id, property_id, spot_id, lease_id, processor_account_id,
	payment_type, status, amount, late_fee_amount, total_amount, currency, due_date, paid_date,
	external_intent_id, external_transaction_id, checkout_url, status_reason, failed_at, failure_count,
	description, metadata, is_deleted, created_at, updated_at`

const eventColumns = `id, provider, provider_event_id, account_id, event_type, object_id,
	outcome, payload, received_at, processed_at`

var sortColumns = map[domain.SortField]string{
	domain.SortByDueDate:     "due_date",
	domain.SortByCreatedAt:   "created_at",
	domain.SortByTotalAmount: "total_amount",
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.PaymentRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_records (
			id, receipt_number, tenant_id, property_id, spot_id, lease_id, processor_account_id,
			payment_type, status, amount, late_fee_amount, total_amount, currency, due_date, paid_date,
			external_intent_id, external_transaction_id, checkout_url, status_reason,
			description, metadata, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.ReceiptNumber,
		record.TenantID,
		record.PropertyID,
		record.SpotID,
		record.LeaseID,
		record.ProcessorAccountID,
		record.PaymentType,
		record.Status,
		record.Amount,
		record.LateFeeAmount,
		record.TotalAmount,
		record.Currency,
		record.DueDate,
		record.PaidDate,
		record.ExternalIntentID,
		record.ExternalTransactionID,
		record.CheckoutURL,
		record.StatusReason,
		record.Description,
		record.Metadata,
		record.CreatedAt,
		record.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentRecord, error) {
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records WHERE id = ? AND is_deleted = FALSE`,
		id,
	))
}

func (r *repo) FindByReceipt(ctx context.Context, db *gorm.DB, receiptNumber string) (*domain.PaymentRecord, error) {
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records WHERE receipt_number = ? AND is_deleted = FALSE`,
		receiptNumber,
	))
}

// FindByExternalID matches either processor reference a record may carry.
func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*domain.PaymentRecord, error) {
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE (external_intent_id = ? OR external_transaction_id = ?) AND is_deleted = FALSE
		 ORDER BY created_at ASC, id ASC
		 LIMIT 1`,
		externalID,
		externalID,
	))
}

func (r *repo) FindByExternalTransaction(ctx context.Context, db *gorm.DB, transactionID string) (*domain.PaymentRecord, error) {
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE external_transaction_id = ? AND is_deleted = FALSE`,
		transactionID,
	))
}

// FindInPeriod returns the earliest live record of the type due in [from, to).
// Cancelled records do not occupy a period.
func (r *repo) FindInPeriod(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentType domain.PaymentType, from, to time.Time) (*domain.PaymentRecord, error) {
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE tenant_id = ? AND payment_type = ?
		   AND due_date >= ? AND due_date < ?
		   AND status <> ? AND is_deleted = FALSE
		 ORDER BY due_date ASC, id ASC
		 LIMIT 1`,
		tenantID,
		paymentType,
		from,
		to,
		domain.PaymentStatusCancelled,
	))
}

// FindOldestCollectible returns the oldest pending or overdue record on the
// lease. When total is set, a record with a matching total wins over an older
// one that does not match.
func (r *repo) FindOldestCollectible(ctx context.Context, db *gorm.DB, tenantID, leaseID snowflake.ID, paymentType domain.PaymentType, total *decimal.Decimal) (*domain.PaymentRecord, error) {
	statuses := []domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusOverdue}
	if total != nil {
		record, err := scanRecord(db.WithContext(ctx).Raw(
			`SELECT `+recordColumns+` FROM payment_records
			 WHERE tenant_id = ? AND lease_id = ? AND payment_type = ?
			   AND status IN ? AND total_amount = ? AND is_deleted = FALSE
			 ORDER BY due_date ASC, id ASC
			 LIMIT 1`,
			tenantID,
			leaseID,
			paymentType,
			statuses,
			*total,
		))
		if err != nil || record != nil {
			return record, err
		}
	}
	return scanRecord(db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE tenant_id = ? AND lease_id = ? AND payment_type = ?
		   AND status IN ? AND is_deleted = FALSE
		 ORDER BY due_date ASC, id ASC
		 LIMIT 1`,
		tenantID,
		leaseID,
		paymentType,
		statuses,
	))
}

func (r *repo) ListByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, paymentType domain.PaymentType, statuses []domain.PaymentStatus, order domain.SortOrder, limit int) ([]domain.PaymentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM payment_records WHERE tenant_id = ? AND is_deleted = FALSE`
	args := []any{tenantID}
	if paymentType != "" {
		query += ` AND payment_type = ?`
		args = append(args, paymentType)
	}
	if len(statuses) > 0 {
		query += ` AND status IN ?`
		args = append(args, statuses)
	}
	if order == domain.SortDesc {
		query += ` ORDER BY due_date DESC, id DESC`
	} else {
		query += ` ORDER BY due_date ASC, id ASC`
	}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var records []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.PaymentRecord, error) {
	where := []string{"is_deleted = FALSE"}
	args := []any{}

	if filter.TenantID != 0 {
		where = append(where, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.PropertyID != 0 {
		where = append(where, "property_id = ?")
		args = append(args, filter.PropertyID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.PaymentType != "" {
		where = append(where, "payment_type = ?")
		args = append(args, filter.PaymentType)
	}
	if filter.DueFrom != nil {
		where = append(where, "due_date >= ?")
		args = append(args, filter.DueFrom.UTC())
	}
	if filter.DueTo != nil {
		where = append(where, "due_date < ?")
		args = append(args, filter.DueTo.UTC())
	}

	column, ok := sortColumns[filter.SortBy]
	if !ok {
		column = sortColumns[domain.SortByDueDate]
	}
	direction := "ASC"
	if filter.SortOrder == domain.SortDesc {
		direction = "DESC"
	}

	query := fmt.Sprintf(
		`SELECT %s FROM payment_records WHERE %s ORDER BY %s %s, id %s LIMIT ? OFFSET ?`,
		recordColumns,
		strings.Join(where, " AND "),
		column,
		direction,
		direction,
	)
	args = append(args, filter.Limit, filter.Offset)

	var records []domain.PaymentRecord
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateStatus moves a record to update.To only while its status is one of
// update.From. The caller learns whether it won the race from the bool.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.StatusUpdate) (bool, error) {
	if len(update.From) == 0 {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET status = ?,
		     paid_date = COALESCE(?, paid_date),
		     external_transaction_id = COALESCE(?, external_transaction_id),
		     status_reason = COALESCE(?, status_reason),
		     updated_at = ?
		 WHERE id = ? AND status IN ? AND is_deleted = FALSE`,
		update.To,
		update.PaidDate,
		update.TransactionID,
		update.Reason,
		update.Now,
		id,
		update.From,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RecordFailure notes a failed attempt without changing the status.
func (r *repo) RecordFailure(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time, statuses []domain.PaymentStatus) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET status_reason = ?, failed_at = ?, failure_count = failure_count + 1, updated_at = ?
		 WHERE id = ? AND status IN ? AND is_deleted = FALSE`,
		reason,
		at,
		at,
		id,
		statuses,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateLateFee(ctx context.Context, db *gorm.DB, id snowflake.ID, fee decimal.Decimal, statuses []domain.PaymentStatus, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET late_fee_amount = ?, total_amount = amount + ?, updated_at = ?
		 WHERE id = ? AND status IN ? AND is_deleted = FALSE`,
		fee,
		fee,
		now,
		id,
		statuses,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListPendingDueBefore returns PENDING records due strictly before cutoff,
// oldest first.
func (r *repo) ListPendingDueBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.PaymentRecord, error) {
	var records []domain.PaymentRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+recordColumns+` FROM payment_records
		 WHERE status = ? AND due_date < ? AND is_deleted = FALSE
		 ORDER BY due_date ASC, id ASC
		 LIMIT ?`,
		domain.PaymentStatusPending,
		cutoff,
		limit,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// MarkOverdue moves a PENDING record to OVERDUE. lateFee is applied only when
// the record carries no late fee yet.
func (r *repo) MarkOverdue(ctx context.Context, db *gorm.DB, id snowflake.ID, lateFee decimal.Decimal, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET status = ?,
		     late_fee_amount = CASE WHEN late_fee_amount = 0 THEN ? ELSE late_fee_amount END,
		     total_amount = amount + CASE WHEN late_fee_amount = 0 THEN ? ELSE late_fee_amount END,
		     updated_at = ?
		 WHERE id = ? AND status = ? AND is_deleted = FALSE`,
		domain.PaymentStatusOverdue,
		lateFee,
		lateFee,
		now,
		id,
		domain.PaymentStatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) UpdateCheckout(ctx context.Context, db *gorm.DB, id snowflake.ID, intentID, checkoutURL string, now time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE payment_records
		 SET external_intent_id = ?, checkout_url = ?, updated_at = ?
		 WHERE id = ? AND status IN ? AND is_deleted = FALSE`,
		intentID,
		checkoutURL,
		now,
		id,
		[]domain.PaymentStatus{domain.PaymentStatusPending, domain.PaymentStatusOverdue, domain.PaymentStatusPartial},
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// InsertEvent stores a processor event once. It reports false when the
// provider event id was already logged.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, provider, provider_event_id, account_id, event_type, object_id, outcome, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.Provider,
		event.ProviderEventID,
		event.AccountID,
		event.EventType,
		event.ObjectID,
		event.Outcome,
		event.Payload,
		event.ReceivedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*domain.EventRecord, error) {
	var event domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+eventColumns+` FROM payment_events WHERE provider = ? AND provider_event_id = ?`,
		provider,
		providerEventID,
	).Scan(&event).Error
	if err != nil {
		return nil, err
	}
	if event.ID == 0 {
		return nil, nil
	}
	return &event, nil
}

func (r *repo) MarkEventProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, outcome string, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events SET outcome = ?, processed_at = ? WHERE id = ?`,
		outcome,
		at,
		id,
	).Error
}

func scanRecord(stmt *gorm.DB) (*domain.PaymentRecord, error) {
	var record domain.PaymentRecord
	if err := stmt.Scan(&record).Error; err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}
