package external

import "github.com/stripe/stripe-go/v82/client"

// NewStripeClient returns an API client bound to key. An empty key returns nil
// so callers can run without Stripe access.
func NewStripeClient(key string) *client.API {
	if len(key) == 0 {
		return nil
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return sc
}
