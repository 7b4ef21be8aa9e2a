package subscription

import (
	"context"

	"github.com/miragespace/premium/entitlement"
)

// Hints are the correlation keys an event may carry
type Hints struct {
	StripeSubscriptionID string
	CheckoutSessionID    string
	StripeCustomerID     string
	UserID               string
}

// Locate tries subscription id, checkout session id, customer id, then user id,
// and returns the first match. Empty hints are skipped. Returns nil when nothing matches.
func Locate(ctx context.Context, repo Repository, hints Hints) (*Subscription, error) {
	lookups := []struct {
		value string
		find  func(context.Context, string) (*Subscription, error)
	}{
		{hints.StripeSubscriptionID, repo.FindByStripeSubscriptionID},
		{hints.CheckoutSessionID, repo.FindByCheckoutSessionID},
		{hints.StripeCustomerID, repo.FindByStripeCustomerID},
		{hints.UserID, repo.FindLatestByUserID},
	}
	for _, l := range lookups {
		if len(l.value) == 0 {
			continue
		}
		sub, err := l.find(ctx, l.value)
		if err != nil {
			return nil, err
		}
		if sub != nil {
			return sub, nil
		}
	}
	return nil, nil
}

// EnsureDefaults inserts the tier's default features that are not yet granted.
// Repeating it is a no-op.
func EnsureDefaults(ctx context.Context, repo Repository, sub *Subscription) error {
	if sub == nil || len(sub.ID) == 0 {
		return nil
	}
	existing, err := repo.ListEntitlements(ctx, sub.ID)
	if err != nil {
		return err
	}
	missing := entitlement.Defaults(sub.Tier).Difference(existing)
	return repo.InsertEntitlements(ctx, sub.ID, missing.Sorted())
}
