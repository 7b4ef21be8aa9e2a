package broker

import (
	"fmt"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/reminder"

	extErrors "github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func encodeReminder(r reminder.Reminder) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"subscriptionId":    r.SubscriptionID,
		"userId":            r.UserID,
		"tier":              string(r.Tier),
		"gracePeriodEndsAt": r.GracePeriodEndsAt.UTC().Format(time.RFC3339Nano),
		"sentAt":            r.SentAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot build reminder message")
	}
	return proto.Marshal(s)
}

func decodeReminder(b []byte) (reminder.Reminder, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return reminder.Reminder{}, extErrors.Wrap(err, "Cannot decode reminder message")
	}
	fields := s.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}

	r := reminder.Reminder{
		SubscriptionID: str("subscriptionId"),
		UserID:         str("userId"),
		Tier:           entitlement.Tier(str("tier")),
	}
	if len(r.SubscriptionID) == 0 {
		return reminder.Reminder{}, fmt.Errorf("reminder message without subscriptionId")
	}
	var err error
	if r.GracePeriodEndsAt, err = time.Parse(time.RFC3339Nano, str("gracePeriodEndsAt")); err != nil {
		return reminder.Reminder{}, extErrors.Wrap(err, "Cannot parse gracePeriodEndsAt")
	}
	if r.SentAt, err = time.Parse(time.RFC3339Nano, str("sentAt")); err != nil {
		return reminder.Reminder{}, extErrors.Wrap(err, "Cannot parse sentAt")
	}
	return r, nil
}
