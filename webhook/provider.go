package webhook

import (
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/subscription"
)

// Metadata keys read from provider objects
const (
	MetadataUserID       = "userId"
	MetadataTier         = "tier"
	MetadataIntent       = "intent"
	MetadataSeatCapacity = "seatCapacity"
	MetadataSeatsInUse   = "seatsInUse"

	IntentStartTrial = "START_TRIAL"
)

// SubscriptionPayload is a provider subscription reduced to what the reconciler needs
type SubscriptionPayload struct {
	ID               string
	CustomerID       string
	Status           string
	PriceID          string
	LatestInvoiceID  string
	CurrentPeriodEnd *time.Time
	CanceledAt       *time.Time
	CancelAt         *time.Time
	UserID           string
	Tier             *entitlement.Tier
	SeatCapacity     *int
	SeatsInUse       *int
}

// InvoicePayload is a provider invoice reduced to what the reconciler needs
type InvoicePayload struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	Status         string
	UserID         string
}

// CheckoutPayload is a completed checkout session
type CheckoutPayload struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	UserID         string
	Tier           *entitlement.Tier
	Intent         string
}

// Provider adapts a payment provider's objects to the reconciler
type Provider interface {
	MapSubscriptionStatus(status string) subscription.Status
	ParseSubscription(raw []byte) (*SubscriptionPayload, error)
	ParseInvoice(raw []byte) (*InvoicePayload, error)
	ParseCheckoutSession(raw []byte) (*CheckoutPayload, error)
}
