package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/fake"
	"github.com/smallbiznis/rentwise/internal/payment/gateway/stripe"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	"github.com/smallbiznis/rentwise/internal/payment/receipt"
	paymentrepo "github.com/smallbiznis/rentwise/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentwise/internal/payment/service"
	"github.com/smallbiznis/rentwise/internal/payment/webhook"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	processorrepo "github.com/smallbiznis/rentwise/internal/processoraccount/repository"
	processorservice "github.com/smallbiznis/rentwise/internal/processoraccount/service"
	"github.com/smallbiznis/rentwise/internal/providers/pdf"
	"github.com/smallbiznis/rentwise/internal/ratelimit"
	rentdueservice "github.com/smallbiznis/rentwise/internal/rentdue/service"
	rentsummaryservice "github.com/smallbiznis/rentwise/internal/rentsummary/service"
	tenancyrepo "github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	engine     *gin.Engine
	processor  *fake.Processor
	payments   paymentdomain.Service
	reconciler *webhook.Reconciler
	fixture    testutil.Fixture
	account    *processordomain.Account
	secret     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	node := testutil.Node(t, 11)
	clk := clock.NewFakeClock(time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC))
	processor := fake.NewProcessor()
	policy := config.NewStaticRentPolicyHolder(config.DefaultRentPolicy())
	cfg := config.Config{
		Environment:   "test",
		PublicBaseURL: "https://rent.example.com",
		Processor:     config.ProcessorConfig{SecretKey: "server-test-key"},
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
	summaries := rentsummaryservice.New(rentsummaryservice.Params{
		DB:          db,
		Log:         log,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Links:       issuer,
		Policy:      policy,
		Clock:       clk,
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
		Listeners:   []paymentdomain.Listener{rentsummaryservice.NewListener(summaries)},
	})
	receipts := receipt.New(receipt.Params{
		DB:          db,
		Log:         log,
		Payments:    payments,
		TenancyRepo: tenancyrepo.Provide(),
		PDF:         pdf.New(),
	})

	f := testutil.SeedFixture(t, db, node, testutil.WithRent("1200"))
	account, err := accounts.Create(context.Background(), processordomain.CreateRequest{
		Name:             "Cedar Holdings",
		SecretKey:        "sk_test_cedar",
		IsDefaultAccount: true,
	})
	require.NoError(t, err)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:        engine,
		Cfg:        cfg,
		Payments:   payments,
		Accounts:   accounts,
		RentDue:    rentDue,
		Links:      issuer,
		Reconciler: reconciler,
		Receipts:   receipts,
		Summaries:  summaries,
	})

	return &testServer{
		engine:     engine,
		processor:  processor,
		payments:   payments,
		reconciler: reconciler,
		fixture:    f,
		account:    account,
		secret:     processor.WebhookSecret(*account.WebhookURL),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error payload: %s", rec.Body.String())
	return payload["type"].(string)
}

func (ts *testServer) issueRent(t *testing.T) *paymentdomain.PaymentRecord {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/tenants/"+ts.fixture.TenantID.String()+"/payments/rent", nil, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	records, err := ts.payments.ListHistory(context.Background(), ts.fixture.TenantID, paymentdomain.PaymentTypeRent)
	require.NoError(t, err)
	require.Len(t, records, 1)
	return &records[0]
}

func (ts *testServer) paidEvent(record *paymentdomain.PaymentRecord) ([]byte, string) {
	metadata := map[string]any{}
	for k, v := range ts.processor.LastCheckout().Metadata {
		metadata[k] = v
	}
	return fake.Event(ts.secret, "evt_http_paid", stripe.EventCheckoutCompleted, map[string]any{
		"id":             *record.ExternalIntentID,
		"payment_intent": "pi_http",
		"payment_status": "paid",
		"amount_total":   record.TotalAmount.Shift(2).IntPart(),
		"currency":       "usd",
		"metadata":       metadata,
	})
}

func TestWebhookAcknowledgesAndAppliesPayment(t *testing.T) {
	ts := newTestServer(t)
	record := ts.issueRent(t)

	payload, signature := ts.paidEvent(record)
	rec := ts.do(t, http.MethodPost, "/webhooks/stripe/"+ts.account.ID.String(), payload, map[string]string{
		headerSignature: signature,
	})
	ts.reconciler.Wait()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	require.Equal(t, true, body["received"])
	require.Equal(t, paymentdomain.OutcomeApplied, body["outcome"])

	paid, err := ts.payments.GetByReceipt(context.Background(), record.ReceiptNumber)
	require.NoError(t, err)
	require.Equal(t, paymentdomain.PaymentStatusPaid, paid.Status)

	// a replayed delivery is still acknowledged
	rec = ts.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{
		headerSignature: signature,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, paymentdomain.OutcomeDuplicate, decode(t, rec)["outcome"])
}

func TestWebhookRejectsForgedSignature(t *testing.T) {
	ts := newTestServer(t)
	payload, signature := fake.Event("whsec_forged", "evt_forged", stripe.EventCheckoutCompleted, map[string]any{
		"id": "cs_forged",
	})

	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{
		headerSignature: signature,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation_error", errorType(t, rec))
}

func TestWebhookRejectsEmptyBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRentSummaryReflectsWebhook(t *testing.T) {
	ts := newTestServer(t)
	record := ts.issueRent(t)

	payload, signature := ts.paidEvent(record)
	rec := ts.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{headerSignature: signature})
	ts.reconciler.Wait()
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tenants/"+ts.fixture.TenantID.String()+"/rent-summary", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	current := data["current_month"].(map[string]any)
	require.Equal(t, string(paymentdomain.PaymentStatusPaid), current["status"])
	require.Equal(t, false, data["no_active_lease"])
}

func TestTenantRoutesValidateTenantID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/tenants/not-an-id/rent-due", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/tenants/"+snowflake.ID(424242).String()+"/rent-due", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecondRentIssueConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.issueRent(t)

	rec := ts.do(t, http.MethodPost, "/api/tenants/"+ts.fixture.TenantID.String()+"/payments/rent", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
}

func TestAdminLedgerActions(t *testing.T) {
	ts := newTestServer(t)
	record := ts.issueRent(t)
	base := "/admin/payments/" + record.ReceiptNumber

	rec := ts.do(t, http.MethodPost, base+"/refund", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/late-fee", []byte(`{"late_fee":"25"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated, err := ts.payments.GetByReceipt(context.Background(), record.ReceiptNumber)
	require.NoError(t, err)
	require.True(t, updated.TotalAmount.Equal(testutil.Money("1225")))

	rec = ts.do(t, http.MethodPost, base+"/status", []byte(`{"status":"bogus"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, base+"/status", []byte(`{"status":"cancelled","reason":"moved out"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, base+"/status", []byte(`{"status":"PAID"}`), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestReceiptDownload(t *testing.T) {
	ts := newTestServer(t)
	record := ts.issueRent(t)

	rec := ts.do(t, http.MethodGet, "/api/payments/"+record.ReceiptNumber+"/receipt.pdf", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	payload, signature := ts.paidEvent(record)
	ts.do(t, http.MethodPost, "/webhooks/stripe", payload, map[string]string{headerSignature: signature})
	ts.reconciler.Wait()

	rec = ts.do(t, http.MethodGet, "/api/payments/"+record.ReceiptNumber+"/receipt.pdf", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	require.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))
}

func TestListPaymentsRejectsUnknownSort(t *testing.T) {
	ts := newTestServer(t)
	ts.issueRent(t)

	rec := ts.do(t, http.MethodGet, "/api/payments?tenant_id="+ts.fixture.TenantID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode(t, rec)["payments"], 1)

	rec = ts.do(t, http.MethodGet, "/api/payments?sort_by=color", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/payments/RCP-MISSING", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessorAccountAdmin(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/admin/processor-accounts", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "sk_test_cedar")
	require.Len(t, decode(t, rec)["data"], 1)

	rec = ts.do(t, http.MethodPost, "/admin/processor-accounts", []byte(`{"name":"Cedar Holdings","secret_key":"sk_test_other"}`), nil)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/admin/processor-accounts/"+snowflake.ID(77).String(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMapErrorProcessorKinds(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{gateway.NewProcessorError(gateway.ErrorKindTransient, "checkout", errors.New("timeout")), http.StatusServiceUnavailable},
		{gateway.NewProcessorError(gateway.ErrorKindAuth, "checkout", errors.New("bad key")), http.StatusBadGateway},
		{paymentdomain.NewValidationError("amount", "Amount must be positive"), http.StatusBadRequest},
		{paymentdomain.ErrDuplicatePeriodPayment, http.StatusConflict},
		{ratelimit.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := mapError(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
	}
}
