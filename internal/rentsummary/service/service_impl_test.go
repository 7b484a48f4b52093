package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/cache"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/fake"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/stripe"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	paymentrepo "github.com/smallbiznis/rentwise/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentwise/internal/payment/service"
	"github.com/smallbiznis/rentwise/internal/payment/webhook"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	processorrepo "github.com/smallbiznis/rentwise/internal/processoraccount/repository"
	processorservice "github.com/smallbiznis/rentwise/internal/processoraccount/service"
	rentdueservice "github.com/smallbiznis/rentwise/internal/rentdue/service"
	"github.com/smallbiznis/rentwise/internal/rentsummary/service"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
	tenancyrepo "github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	processor  *fake.Processor
	payments   paymentdomain.Service
	issuer     *link.Issuer
	summaries  *service.Service
	reconciler *webhook.Reconciler
	f          testutil.Fixture
	secret     string
}

func newHarness(t *testing.T, now time.Time, opts ...testutil.FixtureOption) *harness {
	t.Helper()
	ctx := context.Background()

	db := testutil.OpenDB(t)
	node := testutil.Node(t, 11)
	clk := clock.NewFakeClock(now)
	processor := fake.NewProcessor()
	policy := config.NewStaticRentPolicyHolder(config.DefaultRentPolicy())
	cfg := config.Config{
		PublicBaseURL: "https://rent.example.com",
		Processor:     config.ProcessorConfig{SecretKey: "test-master-key"},
	}
	log := zap.NewNop()

	accounts := processorservice.New(processorservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        processorrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Gateways:    gateway.NewRegistry(fake.NewFactory(processor)),
		Cfg:         cfg,
		Policy:      policy,
		Clock:       clk,
	})
	payments := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Policy:      policy,
		Clock:       clk,
	})
	issuer := link.New(link.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Accounts:    accounts,
		RentDue: rentdueservice.New(rentdueservice.Params{
			DB:          db,
			Log:         log,
			TenancyRepo: tenancyrepo.Provide(),
			Payments:    payments,
			Clock:       clk,
		}),
		Policy: policy,
		Cfg:    cfg,
		Clock:  clk,
	})
	summaries := service.New(service.Params{
		DB:          db,
		Log:         log,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Links:       issuer,
		Policy:      policy,
		Clock:       clk,
		Cache:       cache.NewTTLCache(),
	})
	reconciler := webhook.New(webhook.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Accounts:    accounts,
		Clock:       clk,
		Listeners:   []paymentdomain.Listener{service.NewListener(summaries)},
	})

	f := testutil.SeedFixture(t, db, node, opts...)
	account, err := accounts.Create(ctx, processordomain.CreateRequest{
		Name:             "Cedar Holdings",
		SecretKey:        "sk_test_cedar",
		IsDefaultAccount: true,
	})
	require.NoError(t, err)

	return &harness{
		db:         db,
		node:       node,
		clock:      clk,
		processor:  processor,
		payments:   payments,
		issuer:     issuer,
		summaries:  summaries,
		reconciler: reconciler,
		f:          f,
		secret:     processor.WebhookSecret(*account.WebhookURL),
	}
}

func (h *harness) seed(t *testing.T, status string, due time.Time, lateFee string) snowflake.ID {
	t.Helper()
	p := testutil.PaymentSeed{Status: status, DueDate: due}
	if lateFee != "" {
		p.LateFee = testutil.Money(lateFee)
	}
	if status == "PAID" {
		paid := due.AddDate(0, 0, 2)
		p.PaidDate = &paid
		p.ExternalTransactionID = "pi_" + due.Format("20060102")
	}
	return testutil.SeedPayment(t, h.db, h.node, h.f, p)
}

func TestSummaryAfterReconciledFirstPayment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC), testutil.WithRent("1000"))

	issued, err := h.issuer.IssueRent(ctx, h.f.TenantID)
	require.NoError(t, err)
	require.True(t, issued.Payment.Amount.Equal(testutil.Money("1000")))
	require.True(t, issued.Quote.IsFirstTimePayment)

	metadata := map[string]any{}
	for k, v := range h.processor.LastCheckout().Metadata {
		metadata[k] = v
	}
	payload, signature := fake.Event(h.secret, "evt_first", stripe.EventCheckoutCompleted, map[string]any{
		"id":             issued.CheckoutID,
		"payment_intent": "pi_first",
		"payment_status": "paid",
		"amount_total":   100000,
		"currency":       "usd",
		"metadata":       metadata,
	})
	_, err = h.reconciler.Handle(ctx, webhook.Delivery{Provider: "stripe", Payload: payload, Signature: signature})
	require.NoError(t, err)
	h.reconciler.Wait()

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.NotNil(t, summary.CurrentMonth)
	require.Equal(t, paymentdomain.PaymentStatusPaid, summary.CurrentMonth.Status)
	require.Equal(t, 0, summary.Totals.OverdueCount)
	require.Len(t, summary.RecentPaid, 1)
	require.True(t, summary.Totals.RecentPaidTotal.Equal(testutil.Money("1000")))
	require.Equal(t, 1, h.processor.CheckoutCount())
}

func TestSummaryTotalsAndOverdueDays(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC))

	h.seed(t, "PAID", testutil.Date(2024, time.January, 1), "")
	feb := h.seed(t, "OVERDUE", testutil.Date(2024, time.February, 1), "25")
	mar := h.seed(t, "OVERDUE", testutil.Date(2024, time.March, 1), "")
	testutil.SeedPayment(t, h.db, h.node, h.f, testutil.PaymentSeed{
		Type:    "DEPOSIT",
		DueDate: testutil.Date(2024, time.March, 5),
	})

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.False(t, summary.NoActiveLease)
	require.NotNil(t, summary.Lease)

	require.NotNil(t, summary.CurrentMonth)
	require.Equal(t, mar, summary.CurrentMonth.Payment.ID)
	require.Equal(t, 9, summary.CurrentMonth.DaysOverdue)

	require.Len(t, summary.Outstanding, 2)
	require.Equal(t, feb, summary.Outstanding[0].ID)
	require.Equal(t, mar, summary.Outstanding[1].ID)

	require.Equal(t, 2, summary.Totals.OverdueCount)
	require.Equal(t, 0, summary.Totals.PendingCount)
	require.True(t, summary.Totals.OverdueAmount.Equal(testutil.Money("3025")))
	require.True(t, summary.Totals.RecentPaidTotal.Equal(testutil.Money("1500")))
	require.True(t, summary.Totals.RecentPaidAverage.Equal(testutil.Money("1500")))
	require.Equal(t, 0, h.processor.CheckoutCount())
}

func TestSummaryKeepsLatestPaidRecords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC),
		testutil.WithLeaseStart(testutil.Date(2023, time.June, 1)))

	for month := 0; month < 8; month++ {
		h.seed(t, "PAID", testutil.Date(2023, time.July, 1).AddDate(0, month, 0), "")
	}

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.Len(t, summary.RecentPaid, 6)
	require.True(t, summary.RecentPaid[0].DueDate.Equal(testutil.Date(2024, time.February, 1)))
	require.True(t, summary.RecentPaid[5].DueDate.Equal(testutil.Date(2023, time.September, 1)))
	require.True(t, summary.Totals.RecentPaidTotal.Equal(testutil.Money("9000")))
	require.Nil(t, summary.CurrentMonth)
}

func TestPendingCurrentMonthGetsFreshLink(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC))
	pending := h.seed(t, "PENDING", testutil.Date(2024, time.March, 1), "")

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.NotNil(t, summary.CurrentMonth)
	require.Equal(t, pending, summary.CurrentMonth.Payment.ID)
	require.NotEmpty(t, summary.CurrentMonth.PaymentURL)
	require.Equal(t, 1, summary.Totals.PendingCount)
	require.Equal(t, 1, h.processor.CheckoutCount())

	record, err := h.payments.Get(ctx, pending.String())
	require.NoError(t, err)
	require.Equal(t, summary.CurrentMonth.PaymentURL, *record.CheckoutURL)

	again, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.Equal(t, summary.CurrentMonth.PaymentURL, again.CurrentMonth.PaymentURL)
	require.Equal(t, 1, h.processor.CheckoutCount())
}

func TestLinkFailureDoesNotFailSummary(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC))
	h.seed(t, "PENDING", testutil.Date(2024, time.March, 1), "")
	h.processor.FailCheckout(gateway.NewProcessorError(gateway.ErrorKindTransient, "checkout", context.DeadlineExceeded))

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.NotNil(t, summary.CurrentMonth)
	require.Empty(t, summary.CurrentMonth.PaymentURL)
	require.Equal(t, paymentdomain.PaymentStatusPending, summary.CurrentMonth.Status)
}

func TestSummaryReportsMissingLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC), testutil.WithLeaseStatus("TERMINATED"))

	summary, err := h.summaries.Get(ctx, h.f.TenantID.String())
	require.NoError(t, err)
	require.True(t, summary.NoActiveLease)
	require.Nil(t, summary.Lease)
	require.Empty(t, summary.Outstanding)
}

func TestSummaryRejectsUnknownTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, time.Date(2024, time.March, 3, 9, 0, 0, 0, time.UTC))

	_, err := h.summaries.Get(ctx, "not-a-number")
	require.ErrorIs(t, err, paymentdomain.ErrInvalidID)

	_, err = h.summaries.Get(ctx, h.node.Generate().String())
	require.ErrorIs(t, err, tenancydomain.ErrTenantNotFound)
}

func TestDaysOverdueFloors(t *testing.T) {
	due := testutil.Date(2024, time.March, 1)
	require.Equal(t, 0, service.DaysOverdue(due, due.Add(23*time.Hour)))
	require.Equal(t, 1, service.DaysOverdue(due, due.Add(47*time.Hour)))
	require.Equal(t, 0, service.DaysOverdue(due, due.Add(-48*time.Hour)))
}
