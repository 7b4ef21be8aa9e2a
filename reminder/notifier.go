package reminder

import (
	"context"
	"time"

	"github.com/miragespace/premium/entitlement"

	"go.uber.org/zap"
)

// Reminder is the payload handed to a Notifier for one subscription
type Reminder struct {
	SubscriptionID    string           `json:"subscriptionId"`
	UserID            string           `json:"userId"`
	Tier              entitlement.Tier `json:"tier"`
	GracePeriodEndsAt time.Time        `json:"gracePeriodEndsAt"`
	SentAt            time.Time        `json:"sentAt"`
}

// Notifier delivers a payment reminder. A returned error rolls back the
// reminder claim so the next run retries it.
type Notifier interface {
	NotifyPaymentReminder(ctx context.Context, r Reminder) error
}

// LogNotifier only logs reminders, for development
type LogNotifier struct {
	Logger *zap.Logger
}

var _ Notifier = &LogNotifier{}

func (l *LogNotifier) NotifyPaymentReminder(ctx context.Context, r Reminder) error {
	l.Logger.Info("Payment reminder",
		zap.String("SubscriptionID", r.SubscriptionID),
		zap.String("UserID", r.UserID),
		zap.Time("GracePeriodEndsAt", r.GracePeriodEndsAt),
	)
	return nil
}
