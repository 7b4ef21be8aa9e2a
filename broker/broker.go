package broker

import (
	"context"

	"github.com/miragespace/premium/reminder"
)

// Publisher hands payment reminders to the delivery workers
type Publisher interface {
	reminder.Notifier
	Close()
}

// Consumer receives reminders published by the task instance
type Consumer interface {
	ReceiveReminders(ctx context.Context) (<-chan reminder.Reminder, error)
	Close()
}
