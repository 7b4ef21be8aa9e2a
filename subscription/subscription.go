package subscription

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Metadata is the free-form JSON document attached to a Subscription
type Metadata []byte

func (m *Metadata) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*m = nil
	case []byte:
		*m = append(Metadata(nil), v...)
	case string:
		*m = Metadata(v)
	default:
		return fmt.Errorf("Failed to unmarshal json value: %v", value)
	}
	return nil
}

func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 || !json.Valid(m) {
		return "{}", nil
	}
	return string(m), nil
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	if len(m) == 0 || !json.Valid(m) {
		return []byte("{}"), nil
	}
	return m, nil
}

func (m *Metadata) UnmarshalJSON(b []byte) error {
	*m = append(Metadata(nil), b...)
	return nil
}

func (Metadata) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "sqlite":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}

// Subscription is a user's billing relationship with the payment provider
type Subscription struct {
	ID                      string           `json:"id" gorm:"primaryKey"`
	UserID                  string           `json:"userId" gorm:"index;not null"`
	Tier                    entitlement.Tier `json:"tier" gorm:"not null"`
	Status                  Status           `json:"status" gorm:"index;not null"`
	StripeCustomerID        string           `json:"stripeCustomerId" gorm:"index"`
	StripeSubscriptionID    string           `json:"stripeSubscriptionId" gorm:"index"`
	StripePriceID           string           `json:"stripePriceId"`
	CheckoutSessionID       string           `json:"checkoutSessionId" gorm:"index"`
	LatestInvoiceID         string           `json:"latestInvoiceId"`
	StartedAt               time.Time        `json:"startedAt" gorm:"index"`
	CurrentPeriodEndsAt     *time.Time       `json:"currentPeriodEndsAt"`
	CancellationRequestedAt *time.Time       `json:"cancellationRequestedAt"`
	Metadata                Metadata         `json:"metadata"`
	LastEventAt             *time.Time       `json:"lastEventAt"`
	Version                 int64            `json:"version" gorm:"not null;default:0"`
	CreatedAt               time.Time        `json:"createdAt"`
	UpdatedAt               time.Time        `json:"updatedAt"`
}

// Lifecycle decodes the lifecycle sub-document from the metadata
func (s *Subscription) Lifecycle() lifecycle.Fields {
	return lifecycle.Decode(s.Metadata)
}

// Snapshot resolves the lifecycle state at now
func (s *Subscription) Snapshot(now time.Time) lifecycle.Snapshot {
	return lifecycle.Resolve(s.Metadata, now)
}

// ApplyLifecycle merges the patch into the lifecycle sub-document
func (s *Subscription) ApplyLifecycle(patch lifecycle.Patch) {
	if patch.IsEmpty() {
		return
	}
	s.Metadata = lifecycle.Encode(s.Metadata, patch)
}

// SetMetadataString writes a top-level metadata key such as "source"
func (s *Subscription) SetMetadataString(key, value string) {
	s.Metadata = lifecycle.SetString(s.Metadata, key, value)
}

// BillingPatch updates the external billing identifiers. Absent fields are
// left alone and null fields are cleared.
type BillingPatch struct {
	StripeCustomerID     lifecycle.Field[string] `json:"stripeCustomerId"`
	StripeSubscriptionID lifecycle.Field[string] `json:"stripeSubscriptionId"`
	StripePriceID        lifecycle.Field[string] `json:"stripePriceId"`
	CheckoutSessionID    lifecycle.Field[string] `json:"checkoutSessionId"`
	LatestInvoiceID      lifecycle.Field[string] `json:"latestInvoiceId"`
}

// ApplyBilling writes the present identifiers of the patch
func (s *Subscription) ApplyBilling(patch BillingPatch) {
	applyString(&s.StripeCustomerID, patch.StripeCustomerID)
	applyString(&s.StripeSubscriptionID, patch.StripeSubscriptionID)
	applyString(&s.StripePriceID, patch.StripePriceID)
	applyString(&s.CheckoutSessionID, patch.CheckoutSessionID)
	applyString(&s.LatestInvoiceID, patch.LatestInvoiceID)
}

func applyString(dst *string, f lifecycle.Field[string]) {
	if !f.IsPresent() {
		return
	}
	v, _ := f.Get()
	*dst = v
}

// Entitlement is an explicit feature grant on a subscription
type Entitlement struct {
	ID             string              `json:"id" gorm:"primaryKey"`
	SubscriptionID string              `json:"subscriptionId" gorm:"uniqueIndex:idx_entitlement_subscription_feature;not null"`
	Feature        entitlement.Feature `json:"feature" gorm:"uniqueIndex:idx_entitlement_subscription_feature;not null"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// WebhookEvent is the idempotency and audit ledger row for a provider event
type WebhookEvent struct {
	ID              string         `json:"id" gorm:"primaryKey"`
	ExternalEventID string         `json:"externalEventId" gorm:"uniqueIndex;not null"`
	EventType       string         `json:"eventType" gorm:"index"`
	SubscriptionID  *string        `json:"subscriptionId" gorm:"index"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"receivedAt"`
}
