package webhook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
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
	tenancyrepo "github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingListener struct {
	mu   sync.Mutex
	seen []domain.Notification
}

func (l *recordingListener) Name() string { return "recording" }

func (l *recordingListener) OnPayment(_ context.Context, n domain.Notification) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seen = append(l.seen, n)
	return nil
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

type env struct {
	db         *gorm.DB
	node       *snowflake.Node
	processor  *fake.Processor
	accounts   processordomain.Service
	payments   domain.Service
	issuer     *link.Issuer
	reconciler *webhook.Reconciler
	listener   *recordingListener
	f          testutil.Fixture
	account    *processordomain.Account
	secret     string
}

func newEnv(t *testing.T, opts ...testutil.FixtureOption) *env {
	t.Helper()
	ctx := context.Background()

	db := testutil.OpenDB(t)
	node := testutil.Node(t, 9)
	clk := clock.NewFakeClock(time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC))
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
	rentDue := rentdueservice.New(rentdueservice.Params{
		DB:          db,
		Log:         log,
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Clock:       clk,
	})
	issuer := link.New(link.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Accounts:    accounts,
		RentDue:     rentDue,
		Policy:      policy,
		Cfg:         cfg,
		Clock:       clk,
	})
	listener := &recordingListener{}
	reconciler := webhook.New(webhook.Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Accounts:    accounts,
		Clock:       clk,
		Listeners:   []domain.Listener{listener},
	})

	f := testutil.SeedFixture(t, db, node, opts...)
	account, err := accounts.Create(ctx, processordomain.CreateRequest{
		Name:             "Cedar Holdings",
		SecretKey:        "sk_test_cedar",
		IsDefaultAccount: true,
	})
	require.NoError(t, err)

	return &env{
		db:         db,
		node:       node,
		processor:  processor,
		accounts:   accounts,
		payments:   payments,
		issuer:     issuer,
		reconciler: reconciler,
		listener:   listener,
		f:          f,
		account:    account,
		secret:     processor.WebhookSecret(*account.WebhookURL),
	}
}

func (e *env) deliver(t *testing.T, secret, hint, id, eventType string, object map[string]any) (webhook.Result, error) {
	t.Helper()
	payload, signature := fake.Event(secret, id, eventType, object)
	res, err := e.reconciler.Handle(context.Background(), webhook.Delivery{
		Provider:    "stripe",
		Payload:     payload,
		Signature:   signature,
		AccountHint: hint,
	})
	e.reconciler.Wait()
	return res, err
}

func metadataOf(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func paidSession(checkoutID, intentID string, cents int64, metadata map[string]any) map[string]any {
	return map[string]any{
		"id":             checkoutID,
		"payment_intent": intentID,
		"payment_status": "paid",
		"amount_total":   cents,
		"currency":       "usd",
		"metadata":       metadata,
	}
}

func TestIssueThenSucceededEventMarksPaid(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, testutil.WithRent("1000"))

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)
	require.NotNil(t, issued.Quote)
	require.True(t, issued.Quote.IsFirstTimePayment)
	require.True(t, issued.Payment.Amount.Equal(testutil.Money("1000")))
	require.True(t, issued.Payment.DueDate.Equal(testutil.Date(2024, time.January, 1)))
	require.Equal(t, domain.PaymentStatusPending, issued.Payment.Status)

	sent := e.processor.LastCheckout()
	require.Equal(t, issued.Payment.ReceiptNumber, sent.IdempotencyKey)
	require.Equal(t, issued.Payment.ID.String(), sent.Metadata[domain.MetaPaymentRecordID])
	require.Equal(t, "Jamie Rivera", sent.Metadata[domain.MetaTenantName])
	require.Equal(t, "Cedar Court", sent.Metadata[domain.MetaPropertyName])
	require.Equal(t, "1000.00", sent.Metadata[domain.MetaTotalAmount])
	require.Contains(t, sent.SuccessURL, issued.Payment.ReceiptNumber)

	res, err := e.deliver(t, e.secret, e.account.ID.String(), "evt_paid", stripe.EventCheckoutCompleted,
		paidSession(issued.CheckoutID, "pi_e2e", 100000, metadataOf(sent.Metadata)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, domain.PaymentStatusPaid, res.Record.Status)
	require.NotNil(t, res.Record.PaidDate)
	require.True(t, res.Record.HasTransaction("pi_e2e"))
	require.Equal(t, 1, e.listener.count())
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_events WHERE processed_at IS NOT NULL AND outcome = 'applied'`, 1)
}

func TestReplayedEventsApplyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)
	metadata := metadataOf(e.processor.LastCheckout().Metadata)
	session := paidSession(issued.CheckoutID, "pi_replay", 150000, metadata)

	first, err := e.deliver(t, e.secret, "", "evt_1", stripe.EventCheckoutCompleted, session)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, first.Outcome)

	again, err := e.deliver(t, e.secret, "", "evt_1", stripe.EventCheckoutCompleted, session)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicate, again.Outcome)

	// The intent-level event for the same charge arrives under its own id.
	intent, err := e.deliver(t, e.secret, "", "evt_2", stripe.EventIntentSucceeded, map[string]any{
		"id":              "pi_replay",
		"amount":          150000,
		"amount_received": 150000,
		"currency":        "usd",
		"metadata":        metadata,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeDuplicate, intent.Outcome)

	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records`, 1)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records WHERE status = 'PAID'`, 1)
	require.Equal(t, 1, e.listener.count())
}

func TestUnverifiedEventIsRejectedWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)
	metadata := metadataOf(e.processor.LastCheckout().Metadata)

	_, err = e.deliver(t, "whsec_forged", "", "evt_forged", stripe.EventCheckoutCompleted,
		paidSession(issued.CheckoutID, "pi_forged", 150000, metadata))
	require.ErrorIs(t, err, domain.ErrWebhookSignatureVerificationFailed)

	_, err = e.reconciler.Handle(ctx, webhook.Delivery{Provider: "stripe", Payload: []byte(`{}`)})
	require.ErrorIs(t, err, domain.ErrWebhookSignatureVerificationFailed)

	_, err = e.reconciler.Handle(ctx, webhook.Delivery{Provider: "stripe"})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)

	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_events`, 0)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records WHERE status = 'PENDING'`, 1)
	require.Equal(t, 0, e.listener.count())
}

func TestEventWithoutMetadataMatchesByCheckoutID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)

	res, err := e.deliver(t, e.secret, "", "evt_bare", stripe.EventCheckoutCompleted,
		paidSession(issued.CheckoutID, "pi_bare", 150000, nil))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, issued.Payment.ID, res.Record.ID)
	require.Equal(t, domain.PaymentStatusPaid, res.Record.Status)
}

func TestOrphanedCheckoutIsRecordedFromMetadata(t *testing.T) {
	e := newEnv(t)
	recordID := e.node.Generate()

	metadata := map[string]any{
		domain.MetaPaymentRecordID: recordID.String(),
		domain.MetaReceiptNumber:   "RCP-ORPHAN",
		domain.MetaTenantID:        e.f.TenantID.String(),
		domain.MetaPropertyID:      e.f.PropertyID.String(),
		domain.MetaSpotID:          e.f.SpotID.String(),
		domain.MetaPaymentType:     "RENT",
		domain.MetaDueDate:         "2024-01-01",
		domain.MetaAmount:          "1500.00",
		domain.MetaLateFeeAmount:   "0.00",
	}
	res, err := e.deliver(t, e.secret, "", "evt_orphan", stripe.EventCheckoutCompleted,
		paidSession("cs_orphan", "pi_orphan", 150000, metadata))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, recordID, res.Record.ID)
	require.Equal(t, "RCP-ORPHAN", res.Record.ReceiptNumber)
	require.Equal(t, domain.PaymentStatusPaid, res.Record.Status)
	require.True(t, res.Record.DueDate.Equal(testutil.Date(2024, time.January, 1)))
	require.NotNil(t, res.Record.ProcessorAccountID)
	require.Equal(t, e.account.ID, *res.Record.ProcessorAccountID)
}

func TestTenantResolvedByProcessorCustomer(t *testing.T) {
	e := newEnv(t, testutil.WithProcessorCustomer("cus_77"))
	pending := testutil.SeedPayment(t, e.db, e.node, e.f, testutil.PaymentSeed{DueDate: testutil.Date(2024, time.January, 1)})

	res, err := e.deliver(t, e.secret, "", "evt_cus", stripe.EventIntentSucceeded, map[string]any{
		"id":              "pi_cus",
		"amount_received": 150000,
		"currency":        "usd",
		"customer":        "cus_77",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, pending, res.Record.ID)
	require.Equal(t, domain.PaymentStatusPaid, res.Record.Status)
}

func TestUnmatchedEventIsAcknowledged(t *testing.T) {
	e := newEnv(t)

	res, err := e.deliver(t, e.secret, "", "evt_stranger", stripe.EventIntentSucceeded, map[string]any{
		"id":              "pi_stranger",
		"amount_received": 4200,
		"currency":        "usd",
		"customer":        "cus_unknown",
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeUnmatched, res.Outcome)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records`, 0)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_events WHERE outcome = 'unmatched'`, 1)
	require.Equal(t, 0, e.listener.count())
}

func TestFailedThenExpiredCheckout(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)
	metadata := metadataOf(e.processor.LastCheckout().Metadata)

	res, err := e.deliver(t, e.secret, "", "evt_fail", stripe.EventIntentFailed, map[string]any{
		"id":                 "pi_declined",
		"amount":             150000,
		"currency":           "usd",
		"metadata":           metadata,
		"last_payment_error": map[string]any{"message": "Your card was declined."},
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, domain.PaymentStatusPending, res.Record.Status)
	require.Equal(t, 1, res.Record.FailureCount)
	require.Equal(t, "Your card was declined.", *res.Record.StatusReason)

	res, err = e.deliver(t, e.secret, "", "evt_expired", stripe.EventCheckoutExpired, map[string]any{
		"id":             issued.CheckoutID,
		"payment_status": "unpaid",
		"amount_total":   150000,
		"currency":       "usd",
		"metadata":       metadata,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeApplied, res.Outcome)
	require.Equal(t, domain.PaymentStatusCancelled, res.Record.Status)
	require.Equal(t, 2, e.listener.count())
}

func TestExpiryOfSupersededCheckoutIsIgnored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	issued, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)
	metadata := metadataOf(e.processor.LastCheckout().Metadata)

	fresh, err := e.issuer.Reissue(ctx, issued.Payment.ReceiptNumber)
	require.NoError(t, err)
	require.NotEqual(t, issued.CheckoutID, fresh.CheckoutID)
	require.Equal(t, issued.Payment.ReceiptNumber, fresh.Payment.ReceiptNumber)

	res, err := e.deliver(t, e.secret, "", "evt_old_expired", stripe.EventCheckoutExpired, map[string]any{
		"id":             issued.CheckoutID,
		"payment_status": "unpaid",
		"amount_total":   150000,
		"currency":       "usd",
		"metadata":       metadata,
	})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeIgnored, res.Outcome)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records WHERE status = 'PENDING'`, 1)
}

func TestUnknownEventTypeIsIgnored(t *testing.T) {
	e := newEnv(t)

	res, err := e.deliver(t, e.secret, "", "evt_customer", "customer.created", map[string]any{"id": "cus_1"})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeIgnored, res.Outcome)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_events WHERE outcome = 'ignored'`, 1)
}

func TestSignatureTrialAcrossAccounts(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	other, err := e.accounts.Create(ctx, processordomain.CreateRequest{Name: "Birch Holdings", SecretKey: "sk_test_birch"})
	require.NoError(t, err)
	otherSecret := e.processor.WebhookSecret(*other.WebhookURL)
	require.NotEqual(t, e.secret, otherSecret)

	res, err := e.deliver(t, otherSecret, "", "evt_birch", "customer.created", map[string]any{"id": "cus_2"})
	require.NoError(t, err)
	require.Equal(t, other.ID, res.AccountID)

	// A usable hint narrows verification to that account alone.
	_, err = e.deliver(t, otherSecret, e.account.ID.String(), "evt_birch_2", "customer.created", map[string]any{"id": "cus_3"})
	require.ErrorIs(t, err, domain.ErrWebhookSignatureVerificationFailed)

	res, err = e.deliver(t, otherSecret, "not-an-id", "evt_birch_3", "customer.created", map[string]any{"id": "cus_4"})
	require.NoError(t, err)
	require.Equal(t, other.ID, res.AccountID)
}

func TestIssueFailsWithoutProcessorAccount(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	require.NoError(t, e.accounts.Delete(ctx, e.account.ID.String()))

	_, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.ErrorIs(t, err, processordomain.ErrNoProcessorAccountFound)
	require.Equal(t, 0, e.processor.CheckoutCount())
}

func TestIssueDoesNotPersistWhenCheckoutFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.processor.FailCheckout(gateway.NewProcessorError(gateway.ErrorKindTransient, "checkout", context.DeadlineExceeded))

	_, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	kind, ok := gateway.ProcessorErrorKind(err)
	require.True(t, ok)
	require.Equal(t, gateway.ErrorKindTransient, kind)
	testutil.AssertCount(t, e.db, `SELECT COUNT(1) FROM payment_records`, 0)
}

func TestIssueRejectsSecondChargeForPeriod(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.issuer.IssueRent(ctx, e.f.TenantID)
	require.NoError(t, err)

	_, err = e.issuer.Issue(ctx, link.Request{
		TenantID:    e.f.TenantID,
		PaymentType: domain.PaymentTypeRent,
		Amount:      testutil.Money("100"),
		DueDate:     testutil.Date(2024, time.January, 20),
	})
	require.ErrorIs(t, err, domain.ErrDuplicatePeriodPayment)
	require.Equal(t, 1, e.processor.CheckoutCount())
}
