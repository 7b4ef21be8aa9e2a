package reminder

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type TaskOptions struct {
	Dispatcher *Dispatcher
	Logger     *zap.Logger
	Interval   time.Duration
	// Lock is optional; without it every instance dispatches
	Lock Locker
	Now  func() time.Time
}

// Task periodically runs the Dispatcher
type Task struct {
	TaskOptions
}

func NewTask(option TaskOptions) (*Task, error) {
	if option.Dispatcher == nil {
		return nil, fmt.Errorf("nil Dispatcher is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Interval <= 0 {
		option.Interval = time.Hour
	}
	if option.Now == nil {
		option.Now = time.Now
	}
	return &Task{
		TaskOptions: option,
	}, nil
}

// Run dispatches once immediately and then on every tick until ctx is done
func (t *Task) Run(ctx context.Context) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	t.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *Task) runOnce(ctx context.Context) {
	if t.Lock != nil {
		acquired, err := t.Lock.Acquire(ctx)
		if err != nil {
			t.Logger.Error("Unable to acquire reminder lock",
				zap.Error(err),
			)
			return
		}
		if !acquired {
			t.Logger.Debug("Reminder run held by another instance")
			return
		}
		defer func() {
			if err := t.Lock.Release(context.Background()); err != nil {
				t.Logger.Error("Unable to release reminder lock",
					zap.Error(err),
				)
			}
		}()
	}

	result, err := t.Dispatcher.Dispatch(ctx, t.Now())
	if err != nil {
		t.Logger.Error("Reminder dispatch failed",
			zap.Error(err),
		)
		return
	}
	t.Logger.Info("Reminder dispatch finished",
		zap.Int("RemindersSent", result.RemindersSent),
		zap.Int("Skipped", result.Skipped),
		zap.Int("Failed", result.Failed),
	)
}
