package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

// SecretString holds a credential loaded from configuration. It redacts itself
// in fmt output, JSON and slog attributes; call Unmask only at the point of use.
type SecretString string

func (s SecretString) String() string { return redactedPlaceholder }

// MarshalJSON keeps secrets out of config dumps and API responses.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Unmask returns the raw value.
func (s SecretString) Unmask() string { return string(s) }

// Bytes returns the raw value as bytes, for key material.
func (s SecretString) Bytes() []byte { return []byte(s) }

// IsEmpty reports whether no secret was configured.
func (s SecretString) IsEmpty() bool { return s == "" }
