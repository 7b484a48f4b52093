package service

import (
	"context"
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/rentwise/internal/cache"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	"github.com/smallbiznis/rentwise/internal/rentsummary/domain"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const summaryTTL = 5 * time.Minute

var outstandingStatuses = []paymentdomain.PaymentStatus{
	paymentdomain.PaymentStatusPending,
	paymentdomain.PaymentStatusOverdue,
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        paymentdomain.Repository
	TenancyRepo tenancydomain.Repository
	Links       *link.Issuer
	Policy      *config.RentPolicyHolder
	Clock       clock.Clock
	Cache       cache.Store `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	repo        paymentdomain.Repository
	tenancyRepo tenancydomain.Repository
	links       *link.Issuer
	policy      *config.RentPolicyHolder
	clock       clock.Clock
	cache       cache.Store
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("rentsummary.service"),
		repo:        p.Repo,
		tenancyRepo: p.TenancyRepo,
		links:       p.Links,
		policy:      p.Policy,
		clock:       p.Clock,
		cache:       p.Cache,
	}
}

func (s *Service) Get(ctx context.Context, tenantID string) (*domain.Summary, error) {
	id, err := snowflake.ParseString(tenantID)
	if err != nil || id <= 0 {
		return nil, paymentdomain.ErrInvalidID
	}

	if cached, ok := s.cached(ctx, id); ok {
		return cached, nil
	}

	summary, err := s.build(ctx, id, true)
	if err != nil {
		return nil, err
	}
	s.store(ctx, summary)
	return summary, nil
}

// Refresh rebuilds without requesting a new checkout link, so it is safe to
// call from payment notifications.
func (s *Service) Refresh(ctx context.Context, tenantID snowflake.ID) (*domain.Summary, error) {
	summary, err := s.build(ctx, tenantID, false)
	if err != nil {
		return nil, err
	}
	s.store(ctx, summary)
	return summary, nil
}

func (s *Service) Invalidate(ctx context.Context, tenantID snowflake.ID) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Delete(ctx, cacheKey(tenantID))
}

func (s *Service) build(ctx context.Context, tenantID snowflake.ID, issueLink bool) (*domain.Summary, error) {
	tenant, err := s.tenancyRepo.FindTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, tenancydomain.ErrTenantNotFound
	}

	now := s.clock.Now()
	summary := &domain.Summary{
		TenantID:    tenantID,
		Outstanding: []paymentdomain.PaymentRecord{},
		RecentPaid:  []paymentdomain.PaymentRecord{},
		GeneratedAt: now.UTC(),
	}

	lease, err := s.tenancyRepo.FindActiveLeaseForTenant(ctx, s.db, tenantID)
	if err != nil {
		return nil, err
	}
	if lease == nil {
		summary.NoActiveLease = true
	} else {
		summary.Lease = &domain.LeaseInfo{
			ID:         lease.ID,
			PropertyID: lease.PropertyID,
			SpotID:     lease.SpotID,
			RentAmount: lease.RentAmount,
			LeaseStart: lease.LeaseStart,
			LeaseEnd:   lease.LeaseEnd,
		}
	}

	monthStart := time.Date(now.UTC().Year(), now.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
	current, err := s.repo.FindInPeriod(ctx, s.db, tenantID, paymentdomain.PaymentTypeRent, monthStart, monthStart.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}

	outstanding, err := s.repo.ListByTenant(ctx, s.db, tenantID, paymentdomain.PaymentTypeRent, outstandingStatuses, paymentdomain.SortAsc, 0)
	if err != nil {
		return nil, err
	}
	paid, err := s.repo.ListByTenant(ctx, s.db, tenantID, paymentdomain.PaymentTypeRent,
		[]paymentdomain.PaymentStatus{paymentdomain.PaymentStatusPaid}, paymentdomain.SortDesc, s.policy.Get().RecentPaidLimit)
	if err != nil {
		return nil, err
	}
	if len(outstanding) > 0 {
		summary.Outstanding = outstanding
	}
	if len(paid) > 0 {
		summary.RecentPaid = paid
	}
	summary.Totals = computeTotals(outstanding, paid)

	if current != nil {
		summary.CurrentMonth = &domain.CurrentMonth{
			Payment:    *current,
			Status:     current.Status,
			PaymentURL: lo.FromPtr(current.CheckoutURL),
		}
		if current.Status == paymentdomain.PaymentStatusOverdue {
			summary.CurrentMonth.DaysOverdue = DaysOverdue(current.DueDate, now)
		}
		if current.Status == paymentdomain.PaymentStatusPending && issueLink {
			s.attachFreshLink(ctx, summary.CurrentMonth)
		}
	}
	return summary, nil
}

// attachFreshLink is best-effort; the summary is returned either way.
func (s *Service) attachFreshLink(ctx context.Context, current *domain.CurrentMonth) {
	if s.links == nil {
		return
	}
	issued, err := s.links.Reissue(ctx, current.Payment.ReceiptNumber)
	if err != nil {
		s.log.Warn("failed to refresh payment link for summary",
			zap.String("receipt_number", current.Payment.ReceiptNumber),
			zap.Error(err),
		)
		return
	}
	if issued.Payment != nil {
		current.Payment = *issued.Payment
	}
	current.PaymentURL = issued.CheckoutURL
}

func computeTotals(outstanding, paid []paymentdomain.PaymentRecord) domain.Totals {
	overdue := lo.Filter(outstanding, func(r paymentdomain.PaymentRecord, _ int) bool {
		return r.Status == paymentdomain.PaymentStatusOverdue
	})
	totals := domain.Totals{
		OverdueAmount: lo.Reduce(overdue, func(sum decimal.Decimal, r paymentdomain.PaymentRecord, _ int) decimal.Decimal {
			return sum.Add(r.TotalAmount)
		}, decimal.Zero),
		OverdueCount: len(overdue),
		PendingCount: len(outstanding) - len(overdue),
		RecentPaidTotal: lo.Reduce(paid, func(sum decimal.Decimal, r paymentdomain.PaymentRecord, _ int) decimal.Decimal {
			return sum.Add(r.TotalAmount)
		}, decimal.Zero),
		RecentPaidAverage: decimal.Zero,
	}
	if len(paid) > 0 {
		totals.RecentPaidAverage = totals.RecentPaidTotal.Div(decimal.NewFromInt(int64(len(paid)))).Round(2)
	}
	return totals
}

// DaysOverdue counts whole days elapsed since due, never negative.
func DaysOverdue(due, now time.Time) int {
	days := int(math.Floor(now.Sub(due).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func (s *Service) cached(ctx context.Context, tenantID snowflake.ID) (*domain.Summary, bool) {
	if s.cache == nil {
		return nil, false
	}
	var summary domain.Summary
	ok, err := s.cache.Get(ctx, cacheKey(tenantID), &summary)
	if err != nil {
		s.log.Warn("rent summary cache read failed", zap.String("tenant_id", tenantID.String()), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	// Entries written by Refresh carry no fresh link for a pending month.
	if cm := summary.CurrentMonth; cm != nil && cm.Status == paymentdomain.PaymentStatusPending && cm.PaymentURL == "" {
		return nil, false
	}
	return &summary, true
}

func (s *Service) store(ctx context.Context, summary *domain.Summary) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(summary.TenantID), summary, summaryTTL); err != nil {
		s.log.Warn("rent summary cache write failed", zap.String("tenant_id", summary.TenantID.String()), zap.Error(err))
	}
}

func cacheKey(tenantID snowflake.ID) string {
	return cache.Key("rent-summary", tenantID.String())
}
