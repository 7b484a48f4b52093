package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/clock"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/rentdue/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	TenancyRepo tenancydomain.Repository
	Payments    paymentdomain.Service
	Clock       clock.Clock
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	tenancyRepo tenancydomain.Repository
	payments    paymentdomain.Service
	clock       clock.Clock
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("rentdue.service"),
		tenancyRepo: p.TenancyRepo,
		payments:    p.Payments,
		clock:       p.Clock,
	}
}

func (s *Service) Quote(ctx context.Context, tenantID snowflake.ID, ref time.Time) (domain.Quote, error) {
	if ref.IsZero() {
		ref = s.clock.Now()
	}

	lease, err := s.tenancyRepo.FindActiveLeaseForTenant(ctx, s.db, tenantID)
	if err != nil {
		return domain.Quote{}, err
	}
	if lease == nil {
		return domain.Quote{}, paymentdomain.ErrNoActiveLease
	}

	history, err := s.payments.ListHistory(ctx, tenantID, paymentdomain.PaymentTypeRent)
	if err != nil {
		return domain.Quote{}, err
	}

	quote, err := Calculate(lease, history, ref)
	if err != nil {
		return domain.Quote{}, err
	}
	s.log.Debug("rent quote computed",
		zap.String("tenant_id", tenantID.String()),
		zap.Time("due_date", quote.DueDate),
		zap.String("amount", quote.Amount.StringFixed(2)),
		zap.Bool("first_time", quote.IsFirstTimePayment),
	)
	return quote, nil
}

func (s *Service) EnsurePeriodFree(ctx context.Context, tenantID snowflake.ID, due time.Time) error {
	from := MonthStart(due)
	existing, err := s.payments.FindInPeriod(ctx, tenantID, paymentdomain.PaymentTypeRent, from, from.AddDate(0, 1, 0))
	if err != nil {
		return err
	}
	if existing != nil {
		return paymentdomain.ErrDuplicatePeriodPayment
	}
	return nil
}
