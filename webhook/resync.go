package webhook

import (
	"context"
	"fmt"

	extErrors "github.com/pkg/errors"
	stripe "github.com/stripe/stripe-go/v82"
)

// Resync fetches the subscription from Stripe and reconciles it as a synthetic
// customer.subscription.updated event. It repairs state after missed deliveries.
func (r *Reconciler) Resync(ctx context.Context, stripeSubscriptionID string) (Outcome, error) {
	if r.StripeClient == nil {
		return "", fmt.Errorf("nil StripeClient is invalid")
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := r.StripeClient.Subscriptions.Get(stripeSubscriptionID, params)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot fetch subscription from Stripe")
	}
	if sub.LastResponse == nil || len(sub.LastResponse.RawJSON) == 0 {
		return "", fmt.Errorf("empty response from Stripe")
	}

	now := r.Now().UTC()
	return r.Handle(ctx, Event{
		ID:      fmt.Sprintf("resync:%s:%d", stripeSubscriptionID, now.Unix()),
		Type:    TypeSubscriptionUpdated,
		Created: now,
		Data:    sub.LastResponse.RawJSON,
	})
}
