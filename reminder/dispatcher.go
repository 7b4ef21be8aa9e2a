package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/metrics"
	"github.com/miragespace/premium/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Throttle is the minimum time between two reminders for one subscription
const Throttle = 24 * time.Hour

// Result summarizes one dispatch run
type Result struct {
	RemindersSent int `json:"remindersSent"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
}

type DispatcherOptions struct {
	SubscriptionManager *subscription.Manager
	Notifier            Notifier
	Logger              *zap.Logger
}

// Dispatcher sends throttled reminders to subscriptions in their payment grace period
type Dispatcher struct {
	DispatcherOptions
	metrics *metrics.Metrics
}

func NewDispatcher(option DispatcherOptions) (*Dispatcher, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Dispatcher{
		DispatcherOptions: option,
		metrics:           metrics.Get(),
	}, nil
}

type outcome string

const (
	outcomeSent       outcome = "sent"
	outcomeIneligible outcome = "ineligible"
	outcomeThrottled  outcome = "throttled"
	outcomeConflict   outcome = "conflict"
)

func eligible(snapshot lifecycle.Snapshot, now time.Time) outcome {
	if snapshot.DunningState != lifecycle.DunningPaymentFailed {
		return outcomeIneligible
	}
	if snapshot.GracePeriodEndsAt == nil || !snapshot.GracePeriodEndsAt.After(now) {
		return outcomeIneligible
	}
	if last := snapshot.LastReminderSentAt; last != nil && now.Sub(*last) < Throttle {
		return outcomeThrottled
	}
	return outcomeSent
}

// Dispatch sends at most one reminder per eligible subscription. A zero now means
// the wall clock. Overlapping runs are safe: each reminder is claimed with a
// version compare-and-swap before the notifier is called.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time) (Result, error) {
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var result Result
	candidates, err := d.SubscriptionManager.ListByStatus(ctx, subscription.StatusExpired)
	if err != nil {
		return result, extErrors.Wrap(err, "Cannot list reminder candidates")
	}

	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		sub := &candidates[i]
		o, err := d.remind(ctx, sub, now)
		switch {
		case err != nil:
			d.Logger.Error("Unable to send payment reminder",
				zap.String("SubscriptionID", sub.ID),
				zap.Error(err),
			)
			result.Failed++
			d.metrics.RecordReminderOutcome("failed")
		case o == outcomeSent:
			result.RemindersSent++
			d.metrics.RecordReminderSent()
		default:
			result.Skipped++
			d.metrics.RecordReminderOutcome(string(o))
		}
	}
	return result, nil
}

func (d *Dispatcher) remind(ctx context.Context, sub *subscription.Subscription, now time.Time) (outcome, error) {
	snapshot := sub.Snapshot(now)
	if o := eligible(snapshot, now); o != outcomeSent {
		return o, nil
	}

	o := outcomeSent
	err := d.SubscriptionManager.Transaction(ctx, func(repo subscription.Repository) error {
		expected := sub.Version
		sub.ApplyLifecycle(lifecycle.Patch{
			LastReminderSentAt: lifecycle.Value(now),
		})
		if err := repo.CompareAndSwap(ctx, sub, expected); err != nil {
			if errors.Is(err, subscription.ErrVersionConflict) {
				o = outcomeConflict
				return nil
			}
			return err
		}
		return d.Notifier.NotifyPaymentReminder(ctx, Reminder{
			SubscriptionID:    sub.ID,
			UserID:            sub.UserID,
			Tier:              sub.Tier,
			GracePeriodEndsAt: *snapshot.GracePeriodEndsAt,
			SentAt:            now,
		})
	})
	if err != nil {
		return "", err
	}
	return o, nil
}
