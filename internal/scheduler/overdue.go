package scheduler

import (
	"context"
	"errors"

	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"go.uber.org/zap"
)

// OverdueSweepJob moves PENDING records whose grace period has lapsed to
// OVERDUE, applying the flat late fee in the same statement.
func (s *Scheduler) OverdueSweepJob(ctx context.Context, run *jobRun) error {
	policy := s.policy.Get()
	now := s.clock.Now().UTC()
	cutoff := now.AddDate(0, 0, -policy.GraceDays)
	fee := policy.LateFee()

	var jobErr error
	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		batch, err := s.repo.ListPendingDueBefore(ctx, s.db, cutoff, s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(batch) == 0 {
			return jobErr
		}

		moved := 0
		for _, record := range batch {
			updated, err := s.repo.MarkOverdue(ctx, s.db, record.ID, fee, now)
			if err != nil {
				run.IncError()
				jobErr = errors.Join(jobErr, err)
				s.logger(ctx).Error("scheduler.overdue.failed",
					zap.String("payment_id", record.ID.String()),
					zap.String("receipt_number", record.ReceiptNumber),
					zap.Error(err),
				)
				continue
			}
			if !updated {
				continue
			}
			moved++
			s.metrics.RecordLedgerTransition(ctx, string(paymentdomain.PaymentStatusOverdue))
			s.logger(ctx).Info("payment marked overdue",
				zap.String("payment_id", record.ID.String()),
				zap.String("receipt_number", record.ReceiptNumber),
				zap.Time("due_date", record.DueDate),
			)
		}
		run.AddProcessed(moved)

		// Every row in the batch failed; stop rather than re-read the same rows.
		if moved == 0 && jobErr != nil {
			return jobErr
		}
		if len(batch) < s.cfg.BatchSize {
			return jobErr
		}
	}
}
