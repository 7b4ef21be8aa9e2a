package premium

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/lifecycle"
	"github.com/miragespace/premium/metrics"
	"github.com/miragespace/premium/subscription"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned when an upsert carries an unusable tier, status or user
var ErrInvalidRequest = errors.New("invalid premium subscription request")

const defaultPeriod = 30 * 24 * time.Hour

type ManagerOptions struct {
	SubscriptionManager *subscription.Manager
	Logger              *zap.Logger
	// Now is the clock used for every derived field, defaults to time.Now
	Now func() time.Time
}

// Manager builds premium profiles and applies administrative changes
type Manager struct {
	ManagerOptions
}

func NewManager(option ManagerOptions) (*Manager, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

func (m *Manager) now() time.Time {
	return m.Now().UTC()
}

// GetProfile returns the premium profile of the user's latest subscription
func (m *Manager) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	sub, err := m.SubscriptionManager.FindLatestByUserID(ctx, userID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load subscription for profile")
	}
	if sub == nil {
		return NoPremiumProfile(), nil
	}
	grants, err := m.SubscriptionManager.ListEntitlements(ctx, sub.ID)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot load entitlements for profile")
	}
	return BuildProfile(sub, grants, m.now()), nil
}

// UpsertRequest is an administrative change to a user's subscription
type UpsertRequest struct {
	UserID    string
	Tier      entitlement.Tier
	Status    subscription.Status
	Source    string
	Billing   subscription.BillingPatch
	Lifecycle lifecycle.Patch
}

func (r *UpsertRequest) validate() error {
	if len(r.UserID) == 0 {
		return extErrors.Wrap(ErrInvalidRequest, "empty UserID")
	}
	if !r.Tier.Valid() {
		return extErrors.Wrapf(ErrInvalidRequest, "unknown tier %q", r.Tier)
	}
	if r.Status == "" {
		r.Status = subscription.StatusActive
	}
	if !r.Status.Valid() {
		return extErrors.Wrapf(ErrInvalidRequest, "unknown status %q", r.Status)
	}
	if v, ok := r.Lifecycle.SeatCapacity.Get(); ok && !lifecycle.ValidCount(v) {
		return extErrors.Wrapf(ErrInvalidRequest, "seatCapacity %d out of range", v)
	}
	if v, ok := r.Lifecycle.SeatsInUse.Get(); ok && !lifecycle.ValidCount(v) {
		return extErrors.Wrapf(ErrInvalidRequest, "seatsInUse %d out of range", v)
	}
	if v, ok := r.Lifecycle.DunningState.Get(); ok && !v.Valid() {
		return extErrors.Wrapf(ErrInvalidRequest, "unknown dunning state %q", v)
	}
	if v, ok := r.Lifecycle.DowngradeTargetTier.Get(); ok && !v.Valid() {
		return extErrors.Wrapf(ErrInvalidRequest, "unknown downgrade tier %q", v)
	}
	return nil
}

// Upsert creates or updates the user's latest subscription in one transaction,
// then backfills default entitlements when the new status grants access.
func (m *Manager) Upsert(ctx context.Context, req UpsertRequest) (*Profile, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	logger := m.Logger.With(zap.String("UserID", req.UserID))
	now := m.now()

	var saved *subscription.Subscription
	err := m.SubscriptionManager.Transaction(ctx, func(repo subscription.Repository) error {
		sub, err := repo.FindLatestByUserID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if sub == nil {
			sub = &subscription.Subscription{
				UserID:    req.UserID,
				StartedAt: now,
			}
		}
		wasCanceled := sub.Status == subscription.StatusCanceled

		sub.Tier = req.Tier
		sub.Status = req.Status

		if req.Status == subscription.StatusCanceled {
			if !wasCanceled || sub.CancellationRequestedAt == nil {
				sub.CancellationRequestedAt = &now
			}
		} else {
			sub.CancellationRequestedAt = nil
			if sub.CurrentPeriodEndsAt == nil {
				end := now.Add(defaultPeriod)
				sub.CurrentPeriodEndsAt = &end
			}
		}

		if len(req.Source) > 0 {
			sub.SetMetadataString("source", req.Source)
		}
		sub.ApplyLifecycle(req.Lifecycle)
		sub.ApplyBilling(req.Billing)

		if err := repo.Save(ctx, sub); err != nil {
			return err
		}
		saved = sub
		return nil
	})
	if err != nil {
		logger.Error("Unable to upsert premium subscription",
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot upsert subscription")
	}

	metrics.Get().RecordUpsert(string(saved.Status))

	if saved.Status.GrantsAccess() {
		if err := subscription.EnsureDefaults(ctx, m.SubscriptionManager, saved); err != nil {
			logger.Error("Unable to backfill entitlements",
				zap.String("SubscriptionID", saved.ID),
				zap.Error(err),
			)
			return nil, extErrors.Wrap(err, "Cannot backfill entitlements")
		}
	}

	return m.GetProfile(ctx, req.UserID)
}
