package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/rentwise/internal/clock"
	"github.com/smallbiznis/rentwise/internal/config"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/rentwise/internal/payment/repository"
	paymentservice "github.com/smallbiznis/rentwise/internal/payment/service"
	"github.com/smallbiznis/rentwise/internal/rentdue/service"
	tenancyrepo "github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQuoteLoadsLeaseAndHistory(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 4)
	f := testutil.SeedFixture(t, db, node, testutil.WithRent("1000"))
	clk := clock.NewFakeClock(time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC))

	payments := paymentservice.New(paymentservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Repo:        paymentrepo.Provide(),
		TenancyRepo: tenancyrepo.Provide(),
		Policy:      config.NewStaticRentPolicyHolder(config.DefaultRentPolicy()),
		Clock:       clk,
	})
	svc := service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		TenancyRepo: tenancyrepo.Provide(),
		Payments:    payments,
		Clock:       clk,
	})

	quote, err := svc.Quote(ctx, f.TenantID, time.Time{})
	require.NoError(t, err)
	require.True(t, quote.IsFirstTimePayment)
	require.True(t, quote.Amount.Equal(testutil.Money("1000")))
	require.True(t, quote.DueDate.Equal(testutil.Date(2024, time.January, 1)))
	require.Equal(t, f.LeaseID, quote.LeaseID)
	require.NoError(t, svc.EnsurePeriodFree(ctx, f.TenantID, quote.DueDate))

	testutil.SeedPayment(t, db, node, f, testutil.PaymentSeed{DueDate: quote.DueDate})
	require.ErrorIs(t, svc.EnsurePeriodFree(ctx, f.TenantID, quote.DueDate), paymentdomain.ErrDuplicatePeriodPayment)

	_, err = svc.Quote(ctx, f.TenantID, time.Time{})
	require.ErrorIs(t, err, paymentdomain.ErrDuplicatePeriodPayment)

	clk.Set(time.Date(2024, time.February, 3, 9, 0, 0, 0, time.UTC))
	next, err := svc.Quote(ctx, f.TenantID, time.Time{})
	require.NoError(t, err)
	require.False(t, next.IsFirstTimePayment)
	require.True(t, next.DueDate.Equal(testutil.Date(2024, time.February, 1)))
}

func TestQuoteWithoutActiveLease(t *testing.T) {
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 4)
	f := testutil.SeedFixture(t, db, node, testutil.WithLeaseStatus("PENDING"))
	clk := clock.NewFakeClock(time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC))

	svc := service.New(service.Params{
		DB:          db,
		Log:         zap.NewNop(),
		TenancyRepo: tenancyrepo.Provide(),
		Payments: paymentservice.New(paymentservice.Params{
			DB:          db,
			Log:         zap.NewNop(),
			GenID:       node,
			Repo:        paymentrepo.Provide(),
			TenancyRepo: tenancyrepo.Provide(),
			Policy:      config.NewStaticRentPolicyHolder(config.DefaultRentPolicy()),
			Clock:       clk,
		}),
		Clock: clk,
	})

	_, err := svc.Quote(context.Background(), f.TenantID, time.Time{})
	require.ErrorIs(t, err, paymentdomain.ErrNoActiveLease)
}
