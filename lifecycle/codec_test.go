package lifecycle

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/miragespace/premium/entitlement"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
	}{
		{"empty", ""},
		{"null", "null"},
		{"array", "[1,2,3]"},
		{"string", `"premium"`},
		{"missing key", `{"source":"admin"}`},
		{"sub-document not an object", `{"premiumLifecycle":"nope"}`},
		{"broken json", `{"premiumLifecycle":{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Fields{}, Decode([]byte(tt.metadata)))
		})
	}
}

func TestDecodeFieldsIndependently(t *testing.T) {
	raw := `{"premiumLifecycle":{
		"seatCapacity": 10,
		"seatsInUse": "twelve",
		"gracePeriodEndsAt": "2026-03-01T00:00:00Z",
		"downgradeAt": "next tuesday",
		"downgradeTargetTier": "PREMIUM",
		"dunningState": "SOMETHING_ELSE",
		"lastPaymentFailureAt": "2026-02-22T10:30:00.5+02:00"
	}}`
	f := Decode([]byte(raw))

	require.NotNil(t, f.SeatCapacity)
	assert.Equal(t, 10, *f.SeatCapacity)
	assert.Nil(t, f.SeatsInUse)
	require.NotNil(t, f.GracePeriodEndsAt)
	assert.True(t, f.GracePeriodEndsAt.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Nil(t, f.DowngradeAt)
	require.NotNil(t, f.DowngradeTargetTier)
	assert.Equal(t, entitlement.TierPremium, *f.DowngradeTargetTier)
	assert.Nil(t, f.DunningState)
	require.NotNil(t, f.LastPaymentFailureAt)
	assert.Equal(t, time.UTC, f.LastPaymentFailureAt.Location())
	assert.True(t, f.LastPaymentFailureAt.Equal(time.Date(2026, 2, 22, 8, 30, 0, 500000000, time.UTC)))
	assert.Nil(t, f.LastReminderSentAt)
}

func TestEncodePreservesSiblings(t *testing.T) {
	metadata := []byte(`{"source":"admin","nested":{"a":[1,2]},"premiumLifecycle":{"seatCapacity":5}}`)
	out := Encode(metadata, Patch{SeatsInUse: Value(3)})

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &top))
	assert.JSONEq(t, `"admin"`, string(top["source"]))
	assert.JSONEq(t, `{"a":[1,2]}`, string(top["nested"]))
	assert.JSONEq(t, `{"seatCapacity":5,"seatsInUse":3}`, string(top[Key]))
}

func TestEncodeNullRemovesAbsentKeeps(t *testing.T) {
	grace := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	metadata := Encode(nil, Patch{
		GracePeriodEndsAt: Value(grace),
		DunningState:      Value(DunningPaymentFailed),
		SeatCapacity:      Value(4),
	})

	out := Encode(metadata, Patch{
		GracePeriodEndsAt: Null[time.Time](),
		DunningState:      Value(DunningNone),
	})
	f := Decode(out)
	assert.Nil(t, f.GracePeriodEndsAt)
	require.NotNil(t, f.DunningState)
	assert.Equal(t, DunningNone, *f.DunningState)
	require.NotNil(t, f.SeatCapacity)
	assert.Equal(t, 4, *f.SeatCapacity)
}

func TestEncodeWritesUTCTimestamps(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	at := time.Date(2026, 1, 2, 9, 0, 0, 123, loc)
	out := Encode([]byte(`{}`), Patch{DowngradeAt: Value(at)})
	assert.JSONEq(t, `{"premiumLifecycle":{"downgradeAt":"2026-01-02T00:00:00.000000123Z"}}`, string(out))
}

func TestEncodeReplacesNonObject(t *testing.T) {
	out := Encode([]byte(`[1]`), Patch{SeatCapacity: Value(2)})
	assert.JSONEq(t, `{"premiumLifecycle":{"seatCapacity":2}}`, string(out))
}

func TestRoundTrip(t *testing.T) {
	grace := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tier := entitlement.TierStandard
	dunning := DunningPastDue
	capacity, inUse := 8, 2
	out := Encode(nil, Patch{
		SeatCapacity:        Value(capacity),
		SeatsInUse:          Value(inUse),
		GracePeriodEndsAt:   Value(grace),
		DowngradeTargetTier: Value(tier),
		DunningState:        Value(dunning),
	})
	assert.Equal(t, Fields{
		SeatCapacity:        &capacity,
		SeatsInUse:          &inUse,
		GracePeriodEndsAt:   &grace,
		DowngradeTargetTier: &tier,
		DunningState:        &dunning,
	}, Decode(out))
}

func TestStringHelpers(t *testing.T) {
	metadata := SetString(Encode(nil, Patch{SeatCapacity: Value(1)}), "source", "stripe")
	source, ok := GetString(metadata, "source")
	assert.True(t, ok)
	assert.Equal(t, "stripe", source)
	assert.NotNil(t, Decode(metadata).SeatCapacity)

	_, ok = GetString(metadata, "missing")
	assert.False(t, ok)
}

func TestPatchUnmarshal(t *testing.T) {
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(`{"seatCapacity":12,"gracePeriodEndsAt":null}`), &p))

	v, ok := p.SeatCapacity.Get()
	assert.True(t, ok)
	assert.Equal(t, 12, v)
	assert.True(t, p.GracePeriodEndsAt.IsNull())
	assert.False(t, p.SeatsInUse.IsPresent())
	assert.False(t, p.IsEmpty())
	assert.True(t, Patch{}.IsEmpty())
}

func TestValidCount(t *testing.T) {
	assert.True(t, ValidCount(0))
	assert.True(t, ValidCount(MaxCount))
	assert.False(t, ValidCount(-1))
	assert.False(t, ValidCount(MaxCount+1))
}

func TestEncodeDisjointPatchesCommute(t *testing.T) {
	metadata := []byte(`{"source":"admin","premiumLifecycle":{"seatCapacity":5,"downgradeAt":"2026-05-01T00:00:00Z"}}`)
	a := Patch{
		SeatsInUse:   Value(3),
		DowngradeAt:  Null[time.Time](),
		DunningState: Value(DunningPaymentFailed),
	}
	b := Patch{
		GracePeriodEndsAt:   Value(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)),
		DowngradeTargetTier: Value(entitlement.TierStandard),
	}

	ab := Encode(Encode(metadata, a), b)
	ba := Encode(Encode(metadata, b), a)
	assert.JSONEq(t, string(ab), string(ba))

	f := Decode(ab)
	assert.Nil(t, f.DowngradeAt)
	require.NotNil(t, f.SeatCapacity)
	assert.Equal(t, 5, *f.SeatCapacity)
	source, ok := GetString(ab, "source")
	assert.True(t, ok)
	assert.Equal(t, "admin", source)
}
