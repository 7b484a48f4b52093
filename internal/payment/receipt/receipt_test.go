package receipt_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	"github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/receipt"
	paymentrepo "github.com/smallbiznis/rentwise/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentwise/internal/payment/service"
	"github.com/smallbiznis/rentwise/internal/providers/email"
	"github.com/smallbiznis/rentwise/internal/providers/pdf"
	tenancyrepo "github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type outbox struct {
	mu   sync.Mutex
	sent []email.Message
}

func (o *outbox) Send(_ context.Context, msg email.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	payments domain.Service
	receipts *receipt.Service
	f        testutil.Fixture
}

func setup(t *testing.T) fixture {
	t.Helper()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 12)
	payments := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Policy:      config.NewStaticRentPolicyHolder(config.DefaultRentPolicy()),
		Clock:       clock.NewFakeClock(time.Date(2024, time.March, 2, 9, 0, 0, 0, time.UTC)),
	})
	return fixture{
		db:       db,
		node:     node,
		payments: payments,
		receipts: receipt.New(receipt.Params{
			DB:          db,
			Log:         zap.NewNop(),
			Payments:    payments,
			TenancyRepo: tenancyrepo.Provide(),
			PDF:         pdf.New(),
		}),
		f: testutil.SeedFixture(t, db, node),
	}
}

func (fx fixture) seedPaid(t *testing.T) *domain.PaymentRecord {
	t.Helper()
	paid := time.Date(2024, time.March, 2, 8, 0, 0, 0, time.UTC)
	id := testutil.SeedPayment(t, fx.db, fx.node, fx.f, testutil.PaymentSeed{
		Receipt:               "RCP-PAID",
		Status:                "PAID",
		LateFee:               testutil.Money("25"),
		DueDate:               testutil.Date(2024, time.March, 1),
		PaidDate:              &paid,
		ExternalTransactionID: "pi_receipt",
	})
	record, err := fx.payments.Get(context.Background(), id.String())
	require.NoError(t, err)
	return record
}

func TestReceiptPDFForPaidPayment(t *testing.T) {
	fx := setup(t)
	record := fx.seedPaid(t)

	data, err := fx.receipts.Data(context.Background(), *record)
	require.NoError(t, err)
	require.Equal(t, "Jamie Rivera", data.TenantName)
	require.Equal(t, "Cedar Court", data.PropertyName)
	require.Equal(t, "Spot A-1", data.SpotLabel)
	require.Equal(t, "1525.00", data.Total)
	require.Equal(t, "25.00", data.LateFee)
	require.Equal(t, "2024-03-02", data.DatePaid)
	require.Equal(t, "pi_receipt", data.TransactionID)

	doc, err := fx.receipts.PDF(context.Background(), "RCP-PAID")
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestReceiptRequiresSettledPayment(t *testing.T) {
	fx := setup(t)
	testutil.SeedPayment(t, fx.db, fx.node, fx.f, testutil.PaymentSeed{
		Receipt: "RCP-OPEN",
		DueDate: testutil.Date(2024, time.March, 1),
	})

	_, err := fx.receipts.PDF(context.Background(), "RCP-OPEN")
	require.ErrorIs(t, err, receipt.ErrNotPaid)

	_, err = fx.receipts.PDF(context.Background(), "RCP-MISSING")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMailerSendsOnSuccessOnly(t *testing.T) {
	fx := setup(t)
	record := fx.seedPaid(t)
	box := &outbox{}
	mailer := receipt.NewMailer(fx.receipts, box, zap.NewNop())

	require.NoError(t, mailer.OnPayment(context.Background(), domain.Notification{
		Kind:   domain.NotificationFailed,
		Record: *record,
	}))
	require.Empty(t, box.sent)

	require.NoError(t, mailer.OnPayment(context.Background(), domain.Notification{
		Kind:   domain.NotificationSucceeded,
		Record: *record,
	}))
	require.Len(t, box.sent, 1)
	require.Equal(t, []string{"tenant@example.com"}, box.sent[0].To)
	require.Contains(t, box.sent[0].Subject, "RCP-PAID")
	require.Contains(t, box.sent[0].HTMLBody, "USD 1525.00")
}
