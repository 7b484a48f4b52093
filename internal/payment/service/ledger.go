package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/pkg/db"
	"go.uber.org/zap"
)

var collectibleStatuses = []domain.PaymentStatus{
	domain.PaymentStatusPending,
	domain.PaymentStatusOverdue,
	domain.PaymentStatusPartial,
}

func (s *Service) MarkPaid(ctx context.Context, input domain.MarkPaidInput) (*domain.PaymentRecord, error) {
	record, err := s.lookup(ctx, input.Key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}

	txn := strings.TrimSpace(input.TransactionID)
	if record.Status == domain.PaymentStatusPaid {
		if txn == "" || record.HasTransaction(txn) {
			return record, nil
		}
		return nil, domain.ErrAlreadyPaid
	}
	if !record.Status.Collectible() {
		return nil, domain.ErrInvalidTransition
	}

	paidAt := input.PaidAt.UTC()
	if input.PaidAt.IsZero() {
		paidAt = s.clock.Now().UTC()
	}
	ok, err := s.repo.UpdateStatus(ctx, s.db, record.ID, domain.StatusUpdate{
		To:            domain.PaymentStatusPaid,
		From:          domain.SourcesFor(domain.PaymentStatusPaid),
		PaidDate:      &paidAt,
		TransactionID: optional(txn),
		Now:           s.clock.Now().UTC(),
	})
	if db.IsDuplicateKeyErr(err) {
		return nil, domain.ErrTransactionConflict
	}
	if err != nil {
		return nil, err
	}

	current, err := s.repo.FindByID(ctx, s.db, record.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another delivery of the same payment may have won the update.
		if current != nil && current.Status == domain.PaymentStatusPaid && (txn == "" || current.HasTransaction(txn)) {
			return current, nil
		}
		return nil, domain.ErrStatusConflict
	}

	s.metrics.RecordLedgerTransition(ctx, string(domain.PaymentStatusPaid))
	s.log.Info("payment marked paid",
		zap.String("receipt_number", record.ReceiptNumber),
		zap.String("external_transaction_id", txn),
	)
	return current, nil
}

// MarkFailed records a failed attempt. The record stays collectible so the
// tenant can retry; records that already settled are left untouched.
func (s *Service) MarkFailed(ctx context.Context, key string, reason string, at time.Time) (*domain.PaymentRecord, error) {
	record, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if !record.Status.Collectible() {
		s.log.Info("failure ignored for settled payment",
			zap.String("receipt_number", record.ReceiptNumber),
			zap.String("status", string(record.Status)),
		)
		return record, nil
	}

	if strings.TrimSpace(reason) == "" {
		reason = "payment failed"
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	if _, err := s.repo.RecordFailure(ctx, s.db, record.ID, reason, at.UTC(), collectibleStatuses); err != nil {
		return nil, err
	}

	s.log.Warn("payment attempt failed",
		zap.String("receipt_number", record.ReceiptNumber),
		zap.String("reason", reason),
	)
	return s.repo.FindByID(ctx, s.db, record.ID)
}

func (s *Service) MarkCanceled(ctx context.Context, key string, reason string, at time.Time) (*domain.PaymentRecord, error) {
	record, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if !record.Status.Collectible() {
		return record, nil
	}

	if strings.TrimSpace(reason) == "" {
		reason = "canceled"
	}
	if at.IsZero() {
		at = s.clock.Now()
	}
	ok, err := s.repo.UpdateStatus(ctx, s.db, record.ID, domain.StatusUpdate{
		To:     domain.PaymentStatusCancelled,
		From:   domain.SourcesFor(domain.PaymentStatusCancelled),
		Reason: &reason,
		Now:    at.UTC(),
	})
	if err != nil {
		return nil, err
	}
	if ok {
		s.metrics.RecordLedgerTransition(ctx, string(domain.PaymentStatusCancelled))
		s.log.Info("payment canceled",
			zap.String("receipt_number", record.ReceiptNumber),
			zap.String("reason", reason),
		)
	}
	return s.repo.FindByID(ctx, s.db, record.ID)
}

func (s *Service) AttachCheckout(ctx context.Context, id snowflake.ID, intentID, checkoutURL string) (*domain.PaymentRecord, error) {
	ok, err := s.repo.UpdateCheckout(ctx, s.db, id, intentID, checkoutURL, s.clock.Now().UTC())
	if db.IsDuplicateKeyErr(err) {
		return nil, domain.ErrTransactionConflict
	}
	if err != nil {
		return nil, err
	}
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, domain.ErrNotFound
	}
	if !ok {
		return nil, domain.ErrInvalidTransition
	}
	return record, nil
}

// Transition applies an operator-requested status change. The update only
// lands if the record still has the status it was read with.
func (s *Service) Transition(ctx context.Context, receiptNumber string, req domain.TransitionRequest) (*domain.PaymentRecord, error) {
	if !req.Status.Valid() {
		return nil, domain.NewValidationError("status", "Payment status is not supported")
	}
	record, err := s.GetByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(record.Status, req.Status) {
		return nil, domain.ErrInvalidTransition
	}

	now := s.clock.Now().UTC()
	update := domain.StatusUpdate{
		To:     req.Status,
		From:   []domain.PaymentStatus{record.Status},
		Reason: optional(req.Reason),
		Now:    now,
	}
	if req.Status == domain.PaymentStatusPaid {
		update.PaidDate = &now
	}

	ok, err := s.repo.UpdateStatus(ctx, s.db, record.ID, update)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrStatusConflict
	}

	s.metrics.RecordLedgerTransition(ctx, string(req.Status))
	s.log.Info("payment status changed",
		zap.String("receipt_number", record.ReceiptNumber),
		zap.String("from", string(record.Status)),
		zap.String("to", string(req.Status)),
	)
	return s.repo.FindByID(ctx, s.db, record.ID)
}

// ApplyLateFee replaces the late fee; the total is recomputed in the same
// statement.
func (s *Service) ApplyLateFee(ctx context.Context, receiptNumber string, fee decimal.Decimal) (*domain.PaymentRecord, error) {
	if fee.IsNegative() {
		return nil, domain.NewValidationError("late_fee_amount", "Late fee amount cannot be negative")
	}
	record, err := s.GetByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.UpdateLateFee(ctx, s.db, record.ID, fee.Round(2), collectibleStatuses, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrInvalidTransition
	}
	return s.repo.FindByID(ctx, s.db, record.ID)
}

func (s *Service) Refund(ctx context.Context, receiptNumber string, reason string) (*domain.PaymentRecord, error) {
	record, err := s.GetByReceipt(ctx, receiptNumber)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.PaymentStatusPaid {
		return nil, domain.ErrInvalidTransition
	}
	if strings.TrimSpace(reason) == "" {
		reason = "refunded"
	}

	ok, err := s.repo.UpdateStatus(ctx, s.db, record.ID, domain.StatusUpdate{
		To:     domain.PaymentStatusRefunded,
		From:   []domain.PaymentStatus{domain.PaymentStatusPaid},
		Reason: &reason,
		Now:    s.clock.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrStatusConflict
	}

	s.metrics.RecordLedgerTransition(ctx, string(domain.PaymentStatusRefunded))
	return s.repo.FindByID(ctx, s.db, record.ID)
}
