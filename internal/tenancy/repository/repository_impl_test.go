package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/rentwise/internal/tenancy/domain"
	"github.com/smallbiznis/rentwise/internal/tenancy/repository"
	"github.com/smallbiznis/rentwise/internal/testutil"
	"github.com/stretchr/testify/require"
)

func TestFindActiveLeaseForTenant(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 1)
	repo := repository.Provide()

	f := testutil.SeedFixture(t, db, node, testutil.WithRent("1000.00"))

	lease, err := repo.FindActiveLeaseForTenant(ctx, db, f.TenantID)
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, f.LeaseID, lease.ID)
	require.Equal(t, domain.LeaseStatusActive, lease.LeaseStatus)
	require.True(t, lease.RentAmount.Equal(testutil.Money("1000")))
	require.True(t, lease.LeaseStart.Equal(testutil.Date(2024, time.January, 1)))
	require.Nil(t, lease.LeaseEnd)
}

func TestFindActiveLeaseIgnoresTerminated(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 2)
	repo := repository.Provide()

	f := testutil.SeedFixture(t, db, node, testutil.WithLeaseStatus(string(domain.LeaseStatusTerminated)))

	lease, err := repo.FindActiveLeaseForTenant(ctx, db, f.TenantID)
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestFindTenantSkipsSoftDeleted(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 3)
	repo := repository.Provide()

	f := testutil.SeedFixture(t, db, node)

	tenant, err := repo.FindTenant(ctx, db, f.TenantID)
	require.NoError(t, err)
	require.NotNil(t, tenant)
	require.True(t, tenant.Active())

	require.NoError(t, db.Exec(`UPDATE tenants SET deleted_at = ? WHERE id = ?`, time.Now().UTC(), f.TenantID).Error)

	tenant, err = repo.FindTenant(ctx, db, f.TenantID)
	require.NoError(t, err)
	require.Nil(t, tenant)
}

func TestFindTenantByProcessorRef(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	node := testutil.Node(t, 4)
	repo := repository.Provide()

	f := testutil.SeedFixture(t, db, node, testutil.WithProcessorCustomer("cus_123"))
	require.NoError(t, db.Exec(`UPDATE tenants SET payment_link_id = ? WHERE id = ?`, "plink_9", f.TenantID).Error)

	byCustomer, err := repo.FindTenantByProcessorRef(ctx, db, "cus_123")
	require.NoError(t, err)
	require.NotNil(t, byCustomer)
	require.Equal(t, f.TenantID, byCustomer.ID)

	byLink, err := repo.FindTenantByProcessorRef(ctx, db, "plink_9")
	require.NoError(t, err)
	require.NotNil(t, byLink)
	require.Equal(t, f.TenantID, byLink.ID)

	missing, err := repo.FindTenantByProcessorRef(ctx, db, "")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestLeaseCovers(t *testing.T) {
	end := testutil.Date(2024, time.December, 31)
	lease := domain.Lease{
		LeaseStart: testutil.Date(2024, time.January, 15),
		LeaseEnd:   &end,
	}

	require.False(t, lease.Covers(testutil.Date(2024, time.January, 14)))
	require.True(t, lease.Covers(testutil.Date(2024, time.January, 15)))
	require.True(t, lease.Covers(testutil.Date(2024, time.June, 1)))
	require.False(t, lease.Covers(end))

	lease.LeaseEnd = nil
	require.True(t, lease.Covers(testutil.Date(2030, time.January, 1)))
}
