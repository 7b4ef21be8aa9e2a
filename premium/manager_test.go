package premium

import (
	"context"
	"testing"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/subscription"
	"github.com/miragespace/premium/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *subscription.Manager) {
	t.Helper()
	logger := testutil.Logger(t)
	sm, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     testutil.SetupTestDB(t),
		Logger: logger,
	})
	require.NoError(t, err)
	m, err := NewManager(ManagerOptions{
		SubscriptionManager: sm,
		Logger:              logger,
		Now:                 func() time.Time { return now },
	})
	require.NoError(t, err)
	return m, sm
}

func TestGetProfileWithoutSubscription(t *testing.T) {
	m, _ := newTestManager(t)
	p, err := m.GetProfile(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, NoPremiumProfile(), p)
}

func TestUpsertCreatesAndBackfills(t *testing.T) {
	m, sm := newTestManager(t)
	ctx := context.Background()

	p, err := m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierConcierge,
		Source: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, p.Status)
	assert.True(t, p.HasConciergeSLA)
	require.NotNil(t, p.CurrentPeriodEndsAt)
	assert.True(t, p.CurrentPeriodEndsAt.Equal(now.Add(30*24*time.Hour)))

	sub, err := sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.True(t, sub.StartedAt.Equal(now))
	source, _ := lifecycle.GetString(sub.Metadata, "source")
	assert.Equal(t, "admin", source)

	grants, err := sm.ListEntitlements(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, entitlement.Defaults(entitlement.TierConcierge).Sorted(), grants.Sorted())
}

func TestUpsertCancellation(t *testing.T) {
	m, sm := newTestManager(t)
	ctx := context.Background()

	_, err := m.Upsert(ctx, UpsertRequest{UserID: "user-1", Tier: entitlement.TierPremium})
	require.NoError(t, err)

	later := now.Add(5 * 24 * time.Hour)
	m.Now = func() time.Time { return later }

	p, err := m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierPremium,
		Status: subscription.StatusCanceled,
	})
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, p.Status)
	assert.False(t, p.EntitlementsActive)
	require.NotNil(t, p.CurrentPeriodEndsAt)
	assert.True(t, p.CurrentPeriodEndsAt.Equal(now.Add(30*24*time.Hour)), "period end is preserved on cancel")

	sub, err := sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, sub.CancellationRequestedAt)
	assert.True(t, sub.CancellationRequestedAt.Equal(later))

	// staying canceled keeps the original request time
	m.Now = func() time.Time { return later.Add(time.Hour) }
	_, err = m.Upsert(ctx, UpsertRequest{UserID: "user-1", Tier: entitlement.TierPremium, Status: subscription.StatusCanceled})
	require.NoError(t, err)
	sub, err = sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, sub.CancellationRequestedAt.Equal(later))

	// reactivating clears it
	_, err = m.Upsert(ctx, UpsertRequest{UserID: "user-1", Tier: entitlement.TierPremium})
	require.NoError(t, err)
	sub, err = sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub.CancellationRequestedAt)
}

func TestUpsertPartialPatches(t *testing.T) {
	m, sm := newTestManager(t)
	ctx := context.Background()

	_, err := m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierPremium,
		Billing: subscription.BillingPatch{
			StripeCustomerID:     lifecycle.Value("cus_1"),
			StripeSubscriptionID: lifecycle.Value("sub_1"),
		},
		Lifecycle: lifecycle.Patch{
			SeatCapacity: lifecycle.Value(10),
			SeatsInUse:   lifecycle.Value(4),
		},
	})
	require.NoError(t, err)

	p, err := m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierPremium,
		Billing: subscription.BillingPatch{
			StripeSubscriptionID: lifecycle.Null[string](),
		},
		Lifecycle: lifecycle.Patch{
			SeatsInUse: lifecycle.Value(12),
		},
	})
	require.NoError(t, err)
	assert.True(t, p.IsSeatCapacityExceeded)
	assert.False(t, p.EntitlementsActive)

	sub, err := sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Empty(t, sub.StripeSubscriptionID)
	require.NotNil(t, sub.Lifecycle().SeatCapacity)
	assert.Equal(t, 10, *sub.Lifecycle().SeatCapacity)
}

func TestUpsertValidation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  UpsertRequest
	}{
		{"empty user", UpsertRequest{Tier: entitlement.TierPremium}},
		{"unknown tier", UpsertRequest{UserID: "u", Tier: "GOLD"}},
		{"unknown status", UpsertRequest{UserID: "u", Tier: entitlement.TierPremium, Status: "PAUSED"}},
		{"negative seat capacity", UpsertRequest{UserID: "u", Tier: entitlement.TierPremium, Lifecycle: lifecycle.Patch{
			SeatCapacity: lifecycle.Value(-2),
		}}},
		{"seats in use too large", UpsertRequest{UserID: "u", Tier: entitlement.TierPremium, Lifecycle: lifecycle.Patch{
			SeatsInUse: lifecycle.Value(lifecycle.MaxCount + 1),
		}}},
		{"unknown dunning", UpsertRequest{UserID: "u", Tier: entitlement.TierPremium, Lifecycle: lifecycle.Patch{
			DunningState: lifecycle.Value(lifecycle.DunningState("LATE")),
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Upsert(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestUpsertExpiredSkipsBackfill(t *testing.T) {
	m, sm := newTestManager(t)
	ctx := context.Background()

	_, err := m.Upsert(ctx, UpsertRequest{UserID: "user-1", Tier: entitlement.TierPremium, Status: subscription.StatusExpired})
	require.NoError(t, err)

	sub, err := sm.FindLatestByUserID(ctx, "user-1")
	require.NoError(t, err)
	grants, err := sm.ListEntitlements(ctx, sub.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestUpsertRejectedSeatsKeepStoredCounts(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	p, err := m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierPremium,
		Lifecycle: lifecycle.Patch{
			SeatCapacity: lifecycle.Value(5),
			SeatsInUse:   lifecycle.Value(7),
		},
	})
	require.NoError(t, err)
	require.True(t, p.IsSeatCapacityExceeded)

	_, err = m.Upsert(ctx, UpsertRequest{
		UserID: "user-1",
		Tier:   entitlement.TierPremium,
		Lifecycle: lifecycle.Patch{
			SeatsInUse: lifecycle.Value(lifecycle.MaxCount + 1),
		},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	p, err = m.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, p.SeatsInUse)
	assert.Equal(t, 7, *p.SeatsInUse)
	assert.True(t, p.IsSeatCapacityExceeded)
	assert.False(t, p.EntitlementsActive)
}
