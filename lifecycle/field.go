package lifecycle

import (
	"bytes"
	"encoding/json"
)

// Field is a partial-update value with three states: absent (the zero value),
// explicitly null, or set to a value.
type Field[T any] struct {
	present bool
	null    bool
	value   T
}

// Value returns a Field set to v
func Value[T any](v T) Field[T] {
	return Field[T]{present: true, value: v}
}

// Null returns a Field that clears the stored value
func Null[T any]() Field[T] {
	return Field[T]{present: true, null: true}
}

// IsPresent reports whether the field should be written at all
func (f Field[T]) IsPresent() bool {
	return f.present
}

// IsNull reports whether the field is present and clears the stored value
func (f Field[T]) IsNull() bool {
	return f.present && f.null
}

// Get returns the value and true when the field is present and not null
func (f Field[T]) Get() (T, bool) {
	if !f.present || f.null {
		var zero T
		return zero, false
	}
	return f.value, true
}

// Ptr returns nil for absent or null fields
func (f Field[T]) Ptr() *T {
	v, ok := f.Get()
	if !ok {
		return nil
	}
	return &v
}

// UnmarshalJSON is only invoked when the key exists, so a missing key stays absent
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*f = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Value(v)
	return nil
}

// MarshalJSON writes null for absent and null fields
func (f Field[T]) MarshalJSON() ([]byte, error) {
	v, ok := f.Get()
	if !ok {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}
