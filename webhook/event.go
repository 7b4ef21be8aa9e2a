package webhook

import (
	"encoding/json"
	"time"
)

// Event is a provider-neutral webhook envelope
type Event struct {
	ID      string
	Type    string
	Created time.Time
	// Data is the event's object, e.g. the subscription or invoice
	Data json.RawMessage
	// Raw is the full payload as delivered, kept in the ledger
	Raw []byte
}

func (e Event) ledgerPayload() []byte {
	if len(e.Raw) > 0 && json.Valid(e.Raw) {
		return e.Raw
	}
	if len(e.Data) > 0 && json.Valid(e.Data) {
		return e.Data
	}
	return []byte("{}")
}

// Family is the closed set of event handlers
type Family int

const (
	FamilyUnhandled Family = iota
	FamilySubscription
	FamilyInvoice
	FamilyCheckout
)

func (f Family) String() string {
	switch f {
	case FamilySubscription:
		return "subscription"
	case FamilyInvoice:
		return "invoice"
	case FamilyCheckout:
		return "checkout"
	default:
		return "unhandled"
	}
}

// Event types the reconciler acts on
const (
	TypeSubscriptionCreated      = "customer.subscription.created"
	TypeSubscriptionUpdated      = "customer.subscription.updated"
	TypeSubscriptionDeleted      = "customer.subscription.deleted"
	TypeSubscriptionTrialWillEnd = "customer.subscription.trial_will_end"

	TypeInvoicePaid                  = "invoice.paid"
	TypeInvoicePaymentFailed         = "invoice.payment_failed"
	TypeInvoiceUpdated               = "invoice.updated"
	TypeInvoiceFinalized             = "invoice.finalized"
	TypeInvoicePaymentActionRequired = "invoice.payment_action_required"

	TypeCheckoutSessionCompleted = "checkout.session.completed"
)

// Classify maps an event type to its handler family
func Classify(eventType string) Family {
	switch eventType {
	case TypeSubscriptionCreated, TypeSubscriptionUpdated, TypeSubscriptionDeleted, TypeSubscriptionTrialWillEnd:
		return FamilySubscription
	case TypeInvoicePaid, TypeInvoicePaymentFailed, TypeInvoiceUpdated, TypeInvoiceFinalized, TypeInvoicePaymentActionRequired:
		return FamilyInvoice
	case TypeCheckoutSessionCompleted:
		return FamilyCheckout
	default:
		return FamilyUnhandled
	}
}
