package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/miragespace/premium/metrics"
	"github.com/miragespace/premium/subscription"

	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// Outcome describes what processing an event did to the subscription
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeCreated    Outcome = "created"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeStale      Outcome = "stale"
	OutcomeLedgerOnly Outcome = "ledger_only"
)

func (o Outcome) mutated() bool {
	return o == OutcomeApplied || o == OutcomeCreated
}

// GracePeriod is how long entitlements survive a failed payment
const GracePeriod = 7 * 24 * time.Hour

type ReconcilerOptions struct {
	SubscriptionManager *subscription.Manager
	Provider            Provider
	Logger              *zap.Logger
	// StripeClient is only needed for Resync
	StripeClient *client.API
	// RejectStaleEvents drops mutations from events older than the last one
	// applied to the subscription. They are still written to the ledger.
	RejectStaleEvents bool
	Now               func() time.Time
}

// Reconciler applies provider events to subscriptions, one transaction per event
type Reconciler struct {
	ReconcilerOptions
	metrics *metrics.Metrics
}

func NewReconciler(option ReconcilerOptions) (*Reconciler, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Reconciler{
		ReconcilerOptions: option,
		metrics:           metrics.Get(),
	}, nil
}

// eventTime is when the provider created the event, or now if it did not say
func (r *Reconciler) eventTime(ev Event) time.Time {
	if ev.Created.IsZero() {
		return r.Now().UTC()
	}
	return ev.Created.UTC()
}

func (r *Reconciler) isStale(sub *subscription.Subscription, ev Event) bool {
	return r.RejectStaleEvents &&
		sub.LastEventAt != nil &&
		!ev.Created.IsZero() &&
		ev.Created.Before(*sub.LastEventAt)
}

func (r *Reconciler) touch(sub *subscription.Subscription, ev Event) {
	if ev.Created.IsZero() {
		return
	}
	if sub.LastEventAt == nil || ev.Created.After(*sub.LastEventAt) {
		created := ev.Created.UTC()
		sub.LastEventAt = &created
	}
}

// Handle reconciles one event. Replaying an event rewrites the same ledger
// row and converges on the same subscription state.
func (r *Reconciler) Handle(ctx context.Context, ev Event) (Outcome, error) {
	start := time.Now()
	family := Classify(ev.Type)
	logger := r.Logger.With(
		zap.String("EventID", ev.ID),
		zap.String("EventType", ev.Type),
	)
	if len(ev.ID) == 0 {
		return "", fmt.Errorf("event without id")
	}

	var outcome Outcome
	err := r.SubscriptionManager.Transaction(ctx, func(repo subscription.Repository) error {
		var (
			sub *subscription.Subscription
			err error
		)
		switch family {
		case FamilySubscription:
			sub, outcome, err = r.applySubscription(ctx, repo, ev)
		case FamilyInvoice:
			sub, outcome, err = r.applyInvoice(ctx, repo, ev)
		case FamilyCheckout:
			sub, outcome, err = r.applyCheckout(ctx, repo, ev)
		default:
			outcome = OutcomeLedgerOnly
		}
		if err != nil {
			return err
		}

		record := &subscription.WebhookEvent{
			ExternalEventID: ev.ID,
			EventType:       ev.Type,
			Payload:         datatypes.JSON(ev.ledgerPayload()),
			ReceivedAt:      r.Now().UTC(),
		}
		if sub != nil && len(sub.ID) > 0 {
			id := sub.ID
			record.SubscriptionID = &id
		}
		if err := repo.RecordEvent(ctx, record); err != nil {
			return err
		}

		if sub != nil && outcome.mutated() && sub.Status.GrantsAccess() {
			return subscription.EnsureDefaults(ctx, repo, sub)
		}
		return nil
	})
	if err != nil {
		r.metrics.RecordWebhookEvent(family.String(), "error", time.Since(start))
		logger.Error("Unable to reconcile webhook event",
			zap.Error(err),
		)
		return "", err
	}

	r.metrics.RecordWebhookEvent(family.String(), string(outcome), time.Since(start))
	logger.Debug("Webhook event reconciled",
		zap.String("Outcome", string(outcome)),
	)
	return outcome, nil
}
