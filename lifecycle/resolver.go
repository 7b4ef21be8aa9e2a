package lifecycle

import (
	"time"

	"github.com/miragespace/premium/entitlement"
)

// Snapshot is the lifecycle state of a subscription at a point in time
type Snapshot struct {
	SeatCapacity           *int
	SeatsInUse             *int
	SeatsAvailable         *int
	IsSeatCapacityExceeded bool
	GracePeriodEndsAt      *time.Time
	IsInGracePeriod        bool
	DowngradeAt            *time.Time
	DowngradeTargetTier    *entitlement.Tier
	IsDowngradeScheduled   bool
	DunningState           DunningState
	LastPaymentFailureAt   *time.Time
	LastReminderSentAt     *time.Time
}

// Resolve decodes metadata and derives the snapshot at now
func Resolve(metadata []byte, now time.Time) Snapshot {
	return ResolveFields(Decode(metadata), now)
}

// ResolveFields derives the snapshot from already decoded fields
func ResolveFields(f Fields, now time.Time) Snapshot {
	s := Snapshot{
		SeatCapacity:         f.SeatCapacity,
		SeatsInUse:           f.SeatsInUse,
		GracePeriodEndsAt:    f.GracePeriodEndsAt,
		DowngradeAt:          f.DowngradeAt,
		DowngradeTargetTier:  f.DowngradeTargetTier,
		DunningState:         DunningNone,
		LastPaymentFailureAt: f.LastPaymentFailureAt,
		LastReminderSentAt:   f.LastReminderSentAt,
	}
	if f.DunningState != nil {
		s.DunningState = *f.DunningState
	}

	switch {
	case f.SeatCapacity != nil && f.SeatsInUse != nil:
		available := *f.SeatCapacity - *f.SeatsInUse
		if available < 0 {
			available = 0
		}
		s.SeatsAvailable = &available
		s.IsSeatCapacityExceeded = *f.SeatsInUse > *f.SeatCapacity
	case f.SeatCapacity != nil:
		available := *f.SeatCapacity
		s.SeatsAvailable = &available
	}

	s.IsInGracePeriod = f.GracePeriodEndsAt != nil &&
		f.GracePeriodEndsAt.After(now) &&
		s.DunningState == DunningPaymentFailed
	s.IsDowngradeScheduled = f.DowngradeAt != nil && f.DowngradeAt.After(now)

	return s
}
