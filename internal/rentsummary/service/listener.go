package service

import (
	"context"

	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"go.uber.org/zap"
)

// Listener recomputes a tenant's summary after each reconciled payment event.
type Listener struct {
	summaries *Service
}

func NewListener(summaries *Service) *Listener {
	return &Listener{summaries: summaries}
}

func (l *Listener) Name() string { return "rent_summary" }

func (l *Listener) OnPayment(ctx context.Context, n paymentdomain.Notification) error {
	tenantID := n.Record.TenantID
	if err := l.summaries.Invalidate(ctx, tenantID); err != nil {
		l.summaries.log.Warn("rent summary invalidate failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
	}
	summary, err := l.summaries.Refresh(ctx, tenantID)
	if err != nil {
		return err
	}
	l.summaries.log.Debug("rent summary refreshed",
		zap.String("tenant_id", tenantID.String()),
		zap.String("event_id", n.EventID),
		zap.Int("overdue_count", summary.Totals.OverdueCount),
	)
	return nil
}
