package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/subscription"
	"github.com/miragespace/premium/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Reminder
	err  error
}

func (n *recordingNotifier) NotifyPaymentReminder(ctx context.Context, r Reminder) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, r)
	return nil
}

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*subscription.Manager, *Dispatcher, *recordingNotifier) {
	t.Helper()
	logger := testutil.Logger(t)
	sm, err := subscription.NewManager(subscription.ManagerOptions{
		DB:     testutil.SetupTestDB(t),
		Logger: logger,
	})
	require.NoError(t, err)
	notifier := &recordingNotifier{}
	d, err := NewDispatcher(DispatcherOptions{
		SubscriptionManager: sm,
		Notifier:            notifier,
		Logger:              logger,
	})
	require.NoError(t, err)
	return sm, d, notifier
}

func createSubscription(t *testing.T, sm *subscription.Manager, userID string, status subscription.Status, patch lifecycle.Patch) *subscription.Subscription {
	t.Helper()
	sub := &subscription.Subscription{
		UserID:    userID,
		Tier:      entitlement.TierPremium,
		Status:    status,
		StartedAt: now.Add(-30 * 24 * time.Hour),
	}
	sub.ApplyLifecycle(patch)
	require.NoError(t, sm.Save(context.Background(), sub))
	return sub
}

func inGrace() lifecycle.Patch {
	return lifecycle.Patch{
		DunningState:      lifecycle.Value(lifecycle.DunningPaymentFailed),
		GracePeriodEndsAt: lifecycle.Value(now.Add(3 * 24 * time.Hour)),
	}
}

func TestDispatchThrottle(t *testing.T) {
	sm, d, notifier := setup(t)
	ctx := context.Background()
	sub := createSubscription(t, sm, "user-1", subscription.StatusExpired, inGrace())

	result, err := d.Dispatch(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)

	result, err = d.Dispatch(ctx, now.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, result.RemindersSent)
	assert.Equal(t, 1, result.Skipped)
	assert.Len(t, notifier.sent, 1)

	stored, err := sm.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	last := stored.Lifecycle().LastReminderSentAt
	require.NotNil(t, last)
	assert.True(t, last.Equal(now))

	result, err = d.Dispatch(ctx, now.Add(25*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)
	assert.Len(t, notifier.sent, 2)
	assert.Equal(t, "user-1", notifier.sent[0].UserID)
}

func TestDispatchSkipsIneligible(t *testing.T) {
	sm, d, notifier := setup(t)
	createSubscription(t, sm, "active", subscription.StatusActive, inGrace())
	createSubscription(t, sm, "no-dunning", subscription.StatusExpired, lifecycle.Patch{
		GracePeriodEndsAt: lifecycle.Value(now.Add(time.Hour)),
	})
	createSubscription(t, sm, "past-due", subscription.StatusExpired, lifecycle.Patch{
		DunningState:      lifecycle.Value(lifecycle.DunningPastDue),
		GracePeriodEndsAt: lifecycle.Value(now.Add(time.Hour)),
	})
	createSubscription(t, sm, "grace-over", subscription.StatusExpired, lifecycle.Patch{
		DunningState:      lifecycle.Value(lifecycle.DunningPaymentFailed),
		GracePeriodEndsAt: lifecycle.Value(now.Add(-time.Hour)),
	})

	result, err := d.Dispatch(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{RemindersSent: 0, Skipped: 3}, result)
	assert.Empty(t, notifier.sent)
}

func TestDispatchNotifierFailureRollsBack(t *testing.T) {
	sm, d, notifier := setup(t)
	ctx := context.Background()
	sub := createSubscription(t, sm, "user-1", subscription.StatusExpired, inGrace())

	notifier.err = errors.New("smtp down")
	result, err := d.Dispatch(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	stored, err := sm.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Lifecycle().LastReminderSentAt)

	notifier.err = nil
	result, err = d.Dispatch(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)
}

func TestRemindLosesToConcurrentRun(t *testing.T) {
	sm, d, notifier := setup(t)
	ctx := context.Background()
	sub := createSubscription(t, sm, "user-1", subscription.StatusExpired, inGrace())

	stale, err := sm.FindByID(ctx, sub.ID)
	require.NoError(t, err)

	result, err := d.Dispatch(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemindersSent)

	o, err := d.remind(ctx, stale, now)
	require.NoError(t, err)
	assert.Equal(t, outcomeConflict, o)
	assert.Len(t, notifier.sent, 1)
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := NewDispatcher(DispatcherOptions{})
	assert.Error(t, err)
}
