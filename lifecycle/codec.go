package lifecycle

import (
	"encoding/json"
	"math"
	"time"

	"github.com/miragespace/premium/entitlement"
)

// Key is the metadata key holding the lifecycle sub-document
const Key = "premiumLifecycle"

// MaxCount bounds seat counts; larger values are not read back
const MaxCount = math.MaxInt32

// ValidCount reports whether n can be stored as a seat count
func ValidCount(n int) bool {
	return n >= 0 && n <= MaxCount
}

// DunningState tracks where a subscription is in payment recovery
type DunningState string

// Defining dunning states
const (
	DunningNone          DunningState = "NONE"
	DunningPaymentFailed DunningState = "PAYMENT_FAILED"
	DunningPastDue       DunningState = "PAST_DUE"
)

// Valid reports whether d is a known dunning state
func (d DunningState) Valid() bool {
	switch d {
	case DunningNone, DunningPaymentFailed, DunningPastDue:
		return true
	}
	return false
}

const (
	keySeatCapacity         = "seatCapacity"
	keySeatsInUse           = "seatsInUse"
	keyGracePeriodEndsAt    = "gracePeriodEndsAt"
	keyDowngradeAt          = "downgradeAt"
	keyDowngradeTargetTier  = "downgradeTargetTier"
	keyDunningState         = "dunningState"
	keyLastPaymentFailureAt = "lastPaymentFailureAt"
	keyLastReminderSentAt   = "lastReminderSentAt"
)

// Fields is the decoded lifecycle sub-document. A nil pointer means the
// value has not been observed yet.
type Fields struct {
	SeatCapacity         *int
	SeatsInUse           *int
	GracePeriodEndsAt    *time.Time
	DowngradeAt          *time.Time
	DowngradeTargetTier  *entitlement.Tier
	DunningState         *DunningState
	LastPaymentFailureAt *time.Time
	LastReminderSentAt   *time.Time
}

// Patch describes a shallow merge into the lifecycle sub-document
type Patch struct {
	SeatCapacity         Field[int]              `json:"seatCapacity"`
	SeatsInUse           Field[int]              `json:"seatsInUse"`
	GracePeriodEndsAt    Field[time.Time]        `json:"gracePeriodEndsAt"`
	DowngradeAt          Field[time.Time]        `json:"downgradeAt"`
	DowngradeTargetTier  Field[entitlement.Tier] `json:"downgradeTargetTier"`
	DunningState         Field[DunningState]     `json:"dunningState"`
	LastPaymentFailureAt Field[time.Time]        `json:"lastPaymentFailureAt"`
	LastReminderSentAt   Field[time.Time]        `json:"lastReminderSentAt"`
}

// IsEmpty reports whether applying the patch would change nothing
func (p Patch) IsEmpty() bool {
	return !p.SeatCapacity.IsPresent() &&
		!p.SeatsInUse.IsPresent() &&
		!p.GracePeriodEndsAt.IsPresent() &&
		!p.DowngradeAt.IsPresent() &&
		!p.DowngradeTargetTier.IsPresent() &&
		!p.DunningState.IsPresent() &&
		!p.LastPaymentFailureAt.IsPresent() &&
		!p.LastReminderSentAt.IsPresent()
}

func objectOf(raw []byte) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Decode reads the lifecycle sub-document out of subscription metadata.
// It never fails: anything malformed decodes as absent.
func Decode(metadata []byte) Fields {
	var f Fields
	top, ok := objectOf(metadata)
	if !ok {
		return f
	}
	sub, ok := objectOf(top[Key])
	if !ok {
		return f
	}

	f.SeatCapacity = decodeCount(sub[keySeatCapacity])
	f.SeatsInUse = decodeCount(sub[keySeatsInUse])
	f.GracePeriodEndsAt = decodeTime(sub[keyGracePeriodEndsAt])
	f.DowngradeAt = decodeTime(sub[keyDowngradeAt])
	f.LastPaymentFailureAt = decodeTime(sub[keyLastPaymentFailureAt])
	f.LastReminderSentAt = decodeTime(sub[keyLastReminderSentAt])

	if s := decodeString(sub[keyDowngradeTargetTier]); s != nil {
		if tier := entitlement.Tier(*s); tier.Valid() {
			f.DowngradeTargetTier = &tier
		}
	}
	if s := decodeString(sub[keyDunningState]); s != nil {
		if d := DunningState(*s); d.Valid() {
			f.DunningState = &d
		}
	}
	return f
}

func decodeString(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	return &s
}

func decodeCount(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil
	}
	if n < 0 || n != math.Trunc(n) || n > MaxCount {
		return nil
	}
	v := int(n)
	return &v
}

func decodeTime(raw json.RawMessage) *time.Time {
	s := decodeString(raw)
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

// Encode returns metadata with the lifecycle sub-document shallow-merged with
// patch. Absent patch fields are left untouched, null fields are removed, and
// every other top-level key is carried over.
func Encode(metadata []byte, patch Patch) []byte {
	top, ok := objectOf(metadata)
	if !ok {
		top = make(map[string]json.RawMessage)
	}
	sub, ok := objectOf(top[Key])
	if !ok {
		sub = make(map[string]json.RawMessage)
	}

	mergeField(sub, keySeatCapacity, patch.SeatCapacity, marshalValue[int])
	mergeField(sub, keySeatsInUse, patch.SeatsInUse, marshalValue[int])
	mergeField(sub, keyGracePeriodEndsAt, patch.GracePeriodEndsAt, marshalTime)
	mergeField(sub, keyDowngradeAt, patch.DowngradeAt, marshalTime)
	mergeField(sub, keyDowngradeTargetTier, patch.DowngradeTargetTier, marshalValue[entitlement.Tier])
	mergeField(sub, keyDunningState, patch.DunningState, marshalValue[DunningState])
	mergeField(sub, keyLastPaymentFailureAt, patch.LastPaymentFailureAt, marshalTime)
	mergeField(sub, keyLastReminderSentAt, patch.LastReminderSentAt, marshalTime)

	encodedSub, err := json.Marshal(sub)
	if err != nil {
		return metadata
	}
	top[Key] = encodedSub
	out, err := json.Marshal(top)
	if err != nil {
		return metadata
	}
	return out
}

func mergeField[T any](sub map[string]json.RawMessage, key string, f Field[T], marshal func(T) json.RawMessage) {
	if !f.IsPresent() {
		return
	}
	v, ok := f.Get()
	if !ok {
		delete(sub, key)
		return
	}
	sub[key] = marshal(v)
}

func marshalValue[T any](v T) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func marshalTime(t time.Time) json.RawMessage {
	return marshalValue(t.UTC().Format(time.RFC3339Nano))
}

// GetString reads a top-level string key from metadata
func GetString(metadata []byte, key string) (string, bool) {
	top, ok := objectOf(metadata)
	if !ok {
		return "", false
	}
	s := decodeString(top[key])
	if s == nil {
		return "", false
	}
	return *s, true
}

// SetString writes a top-level string key into metadata, keeping other keys
func SetString(metadata []byte, key, value string) []byte {
	top, ok := objectOf(metadata)
	if !ok {
		top = make(map[string]json.RawMessage)
	}
	top[key] = marshalValue(value)
	out, err := json.Marshal(top)
	if err != nil {
		return metadata
	}
	return out
}
