package webhook

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/subscription"

	extErrors "github.com/pkg/errors"
)

// StripeProvider decodes Stripe objects into provider-neutral payloads
type StripeProvider struct{}

var _ Provider = StripeProvider{}

// MapSubscriptionStatus fails closed: unknown statuses map to EXPIRED
func (StripeProvider) MapSubscriptionStatus(status string) subscription.Status {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "trialing":
		return subscription.StatusTrialing
	case "active":
		return subscription.StatusActive
	case "canceled":
		return subscription.StatusCanceled
	case "past_due", "unpaid", "incomplete", "incomplete_expired", "paused":
		return subscription.StatusExpired
	default:
		return subscription.StatusExpired
	}
}

// expandableID accepts either an id string or an expanded object with an id
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(b, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

func unixTime(v *int64) *time.Time {
	if v == nil || *v <= 0 {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func tierFrom(metadata map[string]string) *entitlement.Tier {
	tier, err := entitlement.ParseTier(metadata[MetadataTier])
	if err != nil {
		return nil
	}
	return &tier
}

func countFrom(metadata map[string]string, key string) *int {
	v, ok := metadata[key]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || !lifecycle.ValidCount(n) {
		return nil
	}
	return &n
}

type stripeSubscription struct {
	ID               string       `json:"id"`
	Customer         expandableID `json:"customer"`
	Status           string       `json:"status"`
	CanceledAt       *int64       `json:"canceled_at"`
	CancelAt         *int64       `json:"cancel_at"`
	CurrentPeriodEnd *int64       `json:"current_period_end"`
	LatestInvoice    expandableID `json:"latest_invoice"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd *int64 `json:"current_period_end"`
			Price            struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
	Metadata map[string]string `json:"metadata"`
}

func (StripeProvider) ParseSubscription(raw []byte) (*SubscriptionPayload, error) {
	var s stripeSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode Stripe subscription")
	}
	p := &SubscriptionPayload{
		ID:               s.ID,
		CustomerID:       string(s.Customer),
		Status:           s.Status,
		LatestInvoiceID:  string(s.LatestInvoice),
		CurrentPeriodEnd: unixTime(s.CurrentPeriodEnd),
		CanceledAt:       unixTime(s.CanceledAt),
		CancelAt:         unixTime(s.CancelAt),
		UserID:           strings.TrimSpace(s.Metadata[MetadataUserID]),
		Tier:             tierFrom(s.Metadata),
		SeatCapacity:     countFrom(s.Metadata, MetadataSeatCapacity),
		SeatsInUse:       countFrom(s.Metadata, MetadataSeatsInUse),
	}
	// newer API versions report the period on the items
	if len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		p.PriceID = item.Price.ID
		if p.CurrentPeriodEnd == nil {
			p.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		}
	}
	return p, nil
}

type stripeInvoice struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Status       string       `json:"status"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
	Metadata map[string]string `json:"metadata"`
}

func (StripeProvider) ParseInvoice(raw []byte) (*InvoicePayload, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode Stripe invoice")
	}
	p := &InvoicePayload{
		ID:             inv.ID,
		CustomerID:     string(inv.Customer),
		Status:         inv.Status,
		SubscriptionID: string(inv.Subscription),
		UserID:         strings.TrimSpace(inv.Metadata[MetadataUserID]),
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil {
		if p.SubscriptionID == "" {
			p.SubscriptionID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		if p.UserID == "" {
			p.UserID = strings.TrimSpace(inv.Parent.SubscriptionDetails.Metadata[MetadataUserID])
		}
	}
	if p.UserID == "" && inv.SubscriptionDetails != nil {
		p.UserID = strings.TrimSpace(inv.SubscriptionDetails.Metadata[MetadataUserID])
	}
	return p, nil
}

type stripeCheckoutSession struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func (StripeProvider) ParseCheckoutSession(raw []byte) (*CheckoutPayload, error) {
	var cs stripeCheckoutSession
	if err := json.Unmarshal(raw, &cs); err != nil {
		return nil, extErrors.Wrap(err, "Cannot decode Stripe checkout session")
	}
	userID := strings.TrimSpace(cs.Metadata[MetadataUserID])
	if userID == "" {
		userID = strings.TrimSpace(cs.ClientReferenceID)
	}
	return &CheckoutPayload{
		ID:             cs.ID,
		SubscriptionID: string(cs.Subscription),
		CustomerID:     string(cs.Customer),
		UserID:         userID,
		Tier:           tierFrom(cs.Metadata),
		Intent:         strings.ToUpper(strings.TrimSpace(cs.Metadata[MetadataIntent])),
	}, nil
}
