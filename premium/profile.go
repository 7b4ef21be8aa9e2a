package premium

import (
	"fmt"
	"math"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/subscription"
)

// Segment classifies a viewer for retention and upsell copy
type Segment string

// Defining segments
const (
	SegmentStandard    Segment = "STANDARD"
	SegmentPremiumCore Segment = "PREMIUM_CORE"
	SegmentConcierge   Segment = "CONCIERGE"
)

// Confidence ranks how strongly a recommendation applies
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// Prompt is the call to action shown to a viewer
type Prompt struct {
	Headline    string `json:"headline"`
	Description string `json:"description"`
	CTA         string `json:"cta"`
}

type Recommendation struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Confidence  Confidence `json:"confidence"`
}

// Profile is the viewer-facing premium state of a user
type Profile struct {
	Tier                   entitlement.Tier       `json:"tier"`
	Status                 subscription.Status    `json:"status"`
	Entitlements           []entitlement.Feature  `json:"entitlements"`
	EntitlementsActive     bool                   `json:"entitlementsActive"`
	CurrentPeriodEndsAt    *time.Time             `json:"currentPeriodEndsAt"`
	IsTrialing             bool                   `json:"isTrialing"`
	HasAdvancedAnalytics   bool                   `json:"hasAdvancedAnalytics"`
	HasDisputeFastTrack    bool                   `json:"hasDisputeFastTrack"`
	HasConciergeSLA        bool                   `json:"hasConciergeSla"`
	SeatCapacity           *int                   `json:"seatCapacity"`
	SeatsInUse             *int                   `json:"seatsInUse"`
	SeatsAvailable         *int                   `json:"seatsAvailable"`
	IsSeatCapacityExceeded bool                   `json:"isSeatCapacityExceeded"`
	GracePeriodEndsAt      *time.Time             `json:"gracePeriodEndsAt"`
	IsInGracePeriod        bool                   `json:"isInGracePeriod"`
	IsDowngradeScheduled   bool                   `json:"isDowngradeScheduled"`
	DowngradeAt            *time.Time             `json:"downgradeAt"`
	DowngradeTargetTier    *entitlement.Tier      `json:"downgradeTargetTier"`
	DunningState           lifecycle.DunningState `json:"dunningState"`
	LastPaymentFailureAt   *time.Time             `json:"lastPaymentFailureAt"`
	LastReminderSentAt     *time.Time             `json:"lastReminderSentAt"`
	UpgradePrompt          *Prompt                `json:"upgradePrompt"`
	Segment                Segment                `json:"segment"`
	Recommendations        []Recommendation       `json:"recommendations"`
}

var defaultPrompt = Prompt{
	Headline:    "Upgrade to Premium",
	Description: "Unlock advanced analytics and fast-tracked dispute resolution for your listings.",
	CTA:         "Upgrade now",
}

// NoPremiumProfile is returned for users without any subscription
func NoPremiumProfile() *Profile {
	prompt := defaultPrompt
	return &Profile{
		Tier:            entitlement.TierStandard,
		Status:          subscription.StatusNone,
		Entitlements:    []entitlement.Feature{},
		DunningState:    lifecycle.DunningNone,
		UpgradePrompt:   &prompt,
		Segment:         SegmentStandard,
		Recommendations: []Recommendation{},
	}
}

// BuildProfile derives the profile of sub given its explicit grants at now
func BuildProfile(sub *subscription.Subscription, grants entitlement.Set, now time.Time) *Profile {
	if sub == nil {
		return NoPremiumProfile()
	}
	snapshot := sub.Snapshot(now)

	statusActive := sub.Status.GrantsAccess() || snapshot.IsInGracePeriod
	entitlementsActive := statusActive && !snapshot.IsSeatCapacityExceeded

	features := entitlement.NewSet()
	if entitlementsActive {
		granted := make([]entitlement.Feature, 0, len(grants))
		for f := range grants {
			granted = append(granted, f)
		}
		features = entitlement.Normalize(sub.Tier, granted...)
	}

	p := &Profile{
		Tier:                   sub.Tier,
		Status:                 sub.Status,
		Entitlements:           features.Sorted(),
		EntitlementsActive:     entitlementsActive,
		CurrentPeriodEndsAt:    sub.CurrentPeriodEndsAt,
		IsTrialing:             sub.Status == subscription.StatusTrialing,
		HasAdvancedAnalytics:   features.Has(entitlement.FeatureAdvancedAnalytics),
		HasDisputeFastTrack:    features.Has(entitlement.FeatureDisputeFastTrack),
		HasConciergeSLA:        features.Has(entitlement.FeatureConciergeSLA),
		SeatCapacity:           snapshot.SeatCapacity,
		SeatsInUse:             snapshot.SeatsInUse,
		SeatsAvailable:         snapshot.SeatsAvailable,
		IsSeatCapacityExceeded: snapshot.IsSeatCapacityExceeded,
		GracePeriodEndsAt:      snapshot.GracePeriodEndsAt,
		IsInGracePeriod:        snapshot.IsInGracePeriod,
		IsDowngradeScheduled:   snapshot.IsDowngradeScheduled,
		DowngradeAt:            snapshot.DowngradeAt,
		DowngradeTargetTier:    snapshot.DowngradeTargetTier,
		DunningState:           snapshot.DunningState,
		LastPaymentFailureAt:   snapshot.LastPaymentFailureAt,
		LastReminderSentAt:     snapshot.LastReminderSentAt,
	}
	p.Segment = segmentOf(snapshot, features)
	p.UpgradePrompt = promptFor(sub, snapshot, entitlementsActive, now)
	p.Recommendations = recommendationsFor(snapshot, p.Segment)
	return p
}

func segmentOf(snapshot lifecycle.Snapshot, features entitlement.Set) Segment {
	switch {
	case snapshot.IsSeatCapacityExceeded:
		return SegmentPremiumCore
	case features.Has(entitlement.FeatureConciergeSLA):
		return SegmentConcierge
	case features.Has(entitlement.FeatureAdvancedAnalytics):
		return SegmentPremiumCore
	default:
		return SegmentStandard
	}
}

// remainingDays rounds up so that any part of a day still counts
func remainingDays(end *time.Time, now time.Time) int {
	if end == nil || !end.After(now) {
		return 0
	}
	return int(math.Ceil(end.Sub(now).Hours() / 24))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

func promptFor(sub *subscription.Subscription, snapshot lifecycle.Snapshot, entitlementsActive bool, now time.Time) *Prompt {
	switch {
	case snapshot.DunningState == lifecycle.DunningPaymentFailed:
		days := remainingDays(snapshot.GracePeriodEndsAt, now)
		if days == 0 {
			return &Prompt{
				Headline:    "Your grace period has ended",
				Description: "We could not collect your last payment. Update your payment method to restore premium features.",
				CTA:         "Update payment method",
			}
		}
		return &Prompt{
			Headline:    fmt.Sprintf("%s left in your grace period", pluralDays(days)),
			Description: "We could not collect your last payment. Update your payment method to keep your premium features.",
			CTA:         "Update payment method",
		}
	case snapshot.IsSeatCapacityExceeded:
		return &Prompt{
			Headline:    "Your team is over its seat limit",
			Description: fmt.Sprintf("%d seats are in use but your plan includes %d. Premium features are paused until seats are rebalanced.", *snapshot.SeatsInUse, *snapshot.SeatCapacity),
			CTA:         "Manage seats",
		}
	case snapshot.IsDowngradeScheduled:
		target := entitlement.TierStandard
		if snapshot.DowngradeTargetTier != nil {
			target = *snapshot.DowngradeTargetTier
		}
		return &Prompt{
			Headline:    "Your plan is scheduled to change",
			Description: fmt.Sprintf("On %s your subscription moves to %s and some features will be removed.", snapshot.DowngradeAt.UTC().Format("January 2, 2006"), target),
			CTA:         "Keep my plan",
		}
	case entitlementsActive:
		return nil
	}

	switch sub.Status {
	case subscription.StatusCanceled:
		return &Prompt{
			Headline:    "Your premium subscription was canceled",
			Description: "Reactivate to get advanced analytics and fast-tracked disputes back.",
			CTA:         "Reactivate",
		}
	case subscription.StatusExpired:
		return &Prompt{
			Headline:    "Your premium access has expired",
			Description: "Renew to restore your premium features.",
			CTA:         "Renew premium",
		}
	// a trial grants access, so this only shows if that ever changes
	case subscription.StatusTrialing:
		return &Prompt{
			Headline:    "Make the most of your trial",
			Description: "Upgrade before your trial ends to keep premium features.",
			CTA:         "Choose a plan",
		}
	default:
		prompt := defaultPrompt
		return &prompt
	}
}

func recommendationsFor(snapshot lifecycle.Snapshot, segment Segment) []Recommendation {
	recs := make([]Recommendation, 0, 3)
	if snapshot.DunningState == lifecycle.DunningPaymentFailed {
		recs = append(recs, Recommendation{
			ID:          "reactivate-billing",
			Title:       "Fix your payment method",
			Description: "Update billing details before the grace period ends to avoid losing premium features.",
			Confidence:  ConfidenceHigh,
		})
	}
	if snapshot.IsSeatCapacityExceeded {
		recs = append(recs, Recommendation{
			ID:          "rebalance-seats",
			Title:       "Rebalance your seats",
			Description: "Remove inactive members or add seats to bring usage back within your plan.",
			Confidence:  ConfidenceMedium,
		})
	}
	switch segment {
	case SegmentConcierge:
		recs = append(recs, Recommendation{
			ID:          "concierge-sprint",
			Title:       "Plan a concierge sprint",
			Description: "Book a session with your concierge to review listings and open disputes.",
			Confidence:  ConfidenceMedium,
		})
	case SegmentPremiumCore:
		recs = append(recs, Recommendation{
			ID:          "premium-core-upsell",
			Title:       "Get a dedicated concierge",
			Description: "Upgrade to Concierge for guaranteed response times on every dispute.",
			Confidence:  ConfidenceLow,
		})
	}
	return recs
}
