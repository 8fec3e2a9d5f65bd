package types

import (
	"bytes"
	"encoding/json"
)

// Optional distinguishes the three states a PATCH field can be in: absent from
// the request (Unset), explicitly null (Null), or carrying a value (Set).
//
// The zero value is Unset. Because encoding/json only calls UnmarshalJSON for
// keys that are present, a missing key leaves the field Unset while a literal
// null moves it to Null.
type Optional[T any] struct {
	present bool
	null    bool
	value   T
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: v}
}

// Null returns an Optional that was explicitly cleared.
func Null[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// IsUnset reports whether the field was absent.
func (o Optional[T]) IsUnset() bool { return !o.present }

// IsNull reports whether the field was present and null.
func (o Optional[T]) IsNull() bool { return o.present && o.null }

// IsSet reports whether the field carried a value.
func (o Optional[T]) IsSet() bool { return o.present && !o.null }

// Get returns the value and whether one was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.IsSet()
}

// Apply resolves the patch against the current value: Unset keeps current,
// Null clears it, Set replaces it.
func (o Optional[T]) Apply(current *T) *T {
	switch {
	case !o.present:
		return current
	case o.null:
		return nil
	default:
		v := o.value
		return &v
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.present = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.null = true
		var zero T
		o.value = zero
		return nil
	}
	o.null = false
	return json.Unmarshal(data, &o.value)
}

// MarshalJSON implements json.Marshaler. Unset and Null both encode as null;
// use omitzero on the containing field to drop Unset values.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// IsZero lets `omitzero` drop Unset fields.
func (o Optional[T]) IsZero() bool { return !o.present }
