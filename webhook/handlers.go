package webhook

import (
	"context"
	"time"

	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

func assignIfKnown(dst *string, v string) {
	if len(v) > 0 {
		*dst = v
	}
}

func (r *Reconciler) applySubscription(ctx context.Context, repo subscription.Repository, ev Event) (*subscription.Subscription, Outcome, error) {
	p, err := r.Provider.ParseSubscription(ev.Data)
	if err != nil {
		return nil, "", err
	}
	status := r.Provider.MapSubscriptionStatus(p.Status)

	sub, err := subscription.Locate(ctx, repo, subscription.Hints{
		StripeSubscriptionID: p.ID,
		StripeCustomerID:     p.CustomerID,
		UserID:               p.UserID,
	})
	if err != nil {
		return nil, "", extErrors.Wrap(err, "Cannot locate subscription")
	}

	outcome := OutcomeApplied
	if sub == nil {
		if len(p.UserID) == 0 || p.Tier == nil {
			r.Logger.Info("Skipping subscription event without userId and tier",
				zap.String("EventID", ev.ID),
				zap.String("StripeSubscriptionID", p.ID),
			)
			return nil, OutcomeSkipped, nil
		}
		sub = &subscription.Subscription{
			UserID:    p.UserID,
			StartedAt: r.eventTime(ev),
		}
		outcome = OutcomeCreated
	} else if r.isStale(sub, ev) {
		return sub, OutcomeStale, nil
	}

	if p.Tier != nil {
		sub.Tier = *p.Tier
	}
	sub.Status = status
	assignIfKnown(&sub.StripeSubscriptionID, p.ID)
	assignIfKnown(&sub.StripeCustomerID, p.CustomerID)
	assignIfKnown(&sub.StripePriceID, p.PriceID)
	assignIfKnown(&sub.LatestInvoiceID, p.LatestInvoiceID)
	if p.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEndsAt = p.CurrentPeriodEnd
	}

	switch {
	case p.CanceledAt != nil:
		sub.CancellationRequestedAt = p.CanceledAt
	case p.CancelAt != nil:
		sub.CancellationRequestedAt = p.CancelAt
	case status == subscription.StatusCanceled && sub.CancellationRequestedAt == nil:
		at := r.eventTime(ev)
		sub.CancellationRequestedAt = &at
	}

	var patch lifecycle.Patch
	if p.SeatCapacity != nil {
		patch.SeatCapacity = lifecycle.Value(*p.SeatCapacity)
	}
	if p.SeatsInUse != nil {
		patch.SeatsInUse = lifecycle.Value(*p.SeatsInUse)
	}
	sub.ApplyLifecycle(patch)

	r.touch(sub, ev)
	if err := repo.Save(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, outcome, nil
}

func (r *Reconciler) applyInvoice(ctx context.Context, repo subscription.Repository, ev Event) (*subscription.Subscription, Outcome, error) {
	p, err := r.Provider.ParseInvoice(ev.Data)
	if err != nil {
		return nil, "", err
	}

	sub, err := subscription.Locate(ctx, repo, subscription.Hints{
		StripeSubscriptionID: p.SubscriptionID,
		StripeCustomerID:     p.CustomerID,
		UserID:               p.UserID,
	})
	if err != nil {
		return nil, "", extErrors.Wrap(err, "Cannot locate subscription")
	}
	if sub == nil {
		return nil, OutcomeSkipped, nil
	}
	if r.isStale(sub, ev) {
		return sub, OutcomeStale, nil
	}

	current := sub.Lifecycle()
	var patch lifecycle.Patch

	switch ev.Type {
	case TypeInvoicePaymentFailed:
		failedAt := r.eventTime(ev)
		graceEnds := failedAt.Add(GracePeriod)
		if current.GracePeriodEndsAt != nil && current.GracePeriodEndsAt.After(graceEnds) {
			graceEnds = *current.GracePeriodEndsAt
		}
		patch = lifecycle.Patch{
			GracePeriodEndsAt:    lifecycle.Value(graceEnds),
			DunningState:         lifecycle.Value(lifecycle.DunningPaymentFailed),
			LastPaymentFailureAt: lifecycle.Value(failedAt),
			LastReminderSentAt:   lifecycle.Null[time.Time](),
		}
		sub.Status = subscription.StatusExpired

	case TypeInvoicePaid:
		patch = lifecycle.Patch{
			DunningState:         lifecycle.Value(lifecycle.DunningNone),
			GracePeriodEndsAt:    lifecycle.Null[time.Time](),
			LastPaymentFailureAt: lifecycle.Null[time.Time](),
		}
		if p.Status == "" || p.Status == "paid" {
			sub.Status = subscription.StatusActive
		}

	default:
		// still open after a failure: the collection is pending, not freshly failed
		if p.Status != "open" || current.DunningState == nil || *current.DunningState != lifecycle.DunningPaymentFailed {
			return sub, OutcomeSkipped, nil
		}
		patch = lifecycle.Patch{
			DunningState: lifecycle.Value(lifecycle.DunningPastDue),
		}
	}

	assignIfKnown(&sub.LatestInvoiceID, p.ID)
	if len(sub.StripeCustomerID) == 0 {
		sub.StripeCustomerID = p.CustomerID
	}
	sub.ApplyLifecycle(patch)

	r.touch(sub, ev)
	if err := repo.Save(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, OutcomeApplied, nil
}

func (r *Reconciler) applyCheckout(ctx context.Context, repo subscription.Repository, ev Event) (*subscription.Subscription, Outcome, error) {
	p, err := r.Provider.ParseCheckoutSession(ev.Data)
	if err != nil {
		return nil, "", err
	}

	sub, err := subscription.Locate(ctx, repo, subscription.Hints{
		CheckoutSessionID: p.ID,
	})
	if err == nil && sub == nil {
		sub, err = subscription.Locate(ctx, repo, subscription.Hints{
			StripeSubscriptionID: p.SubscriptionID,
			StripeCustomerID:     p.CustomerID,
			UserID:               p.UserID,
		})
	}
	if err != nil {
		return nil, "", extErrors.Wrap(err, "Cannot locate subscription")
	}

	outcome := OutcomeApplied
	if sub == nil {
		if len(p.UserID) == 0 || p.Tier == nil {
			r.Logger.Info("Skipping checkout without userId and tier",
				zap.String("EventID", ev.ID),
				zap.String("CheckoutSessionID", p.ID),
			)
			return nil, OutcomeSkipped, nil
		}
		status := subscription.StatusActive
		if p.Intent == IntentStartTrial {
			status = subscription.StatusTrialing
		}
		sub = &subscription.Subscription{
			UserID:    p.UserID,
			Status:    status,
			StartedAt: r.eventTime(ev),
		}
		outcome = OutcomeCreated
	} else if r.isStale(sub, ev) {
		return sub, OutcomeStale, nil
	}

	if p.Tier != nil {
		sub.Tier = *p.Tier
	}
	assignIfKnown(&sub.CheckoutSessionID, p.ID)
	assignIfKnown(&sub.StripeSubscriptionID, p.SubscriptionID)
	assignIfKnown(&sub.StripeCustomerID, p.CustomerID)

	r.touch(sub, ev)
	if err := repo.Save(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, outcome, nil
}
