package broker

import (
	"testing"
	"time"

	"github.com/miragespace/premium/entitlement"
	"github.com/miragespace/premium/reminder"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestReminderMessage(t *testing.T) {
	in := reminder.Reminder{
		SubscriptionID:    "sub-1",
		UserID:            "user-1",
		Tier:              entitlement.TierPremium,
		GracePeriodEndsAt: time.Date(2026, 3, 17, 12, 0, 0, 0, time.UTC),
		SentAt:            time.Date(2026, 3, 10, 12, 0, 0, 500, time.UTC),
	}
	b, err := encodeReminder(in)
	require.NoError(t, err)

	out, err := decodeReminder(b)
	require.NoError(t, err)
	assert.Equal(t, in.SubscriptionID, out.SubscriptionID)
	assert.Equal(t, in.UserID, out.UserID)
	assert.Equal(t, in.Tier, out.Tier)
	assert.True(t, in.GracePeriodEndsAt.Equal(out.GracePeriodEndsAt))
	assert.True(t, in.SentAt.Equal(out.SentAt))
}

func TestDecodeReminderRejectsMalformed(t *testing.T) {
	_, err := decodeReminder([]byte{0xff, 0x01})
	assert.Error(t, err)

	s, err := structpb.NewStruct(map[string]interface{}{"userId": "user-1"})
	require.NoError(t, err)
	b, err := proto.Marshal(s)
	require.NoError(t, err)
	_, err = decodeReminder(b)
	assert.Error(t, err)
}
