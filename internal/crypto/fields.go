package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
)

// EncryptFields returns a copy of m with every string value replaced by its
// base64-encoded ciphertext. Nested maps are walked; other values are copied
// unchanged.
func (c *Codec) EncryptFields(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			sealed, err := c.Encrypt([]byte(val))
			if err != nil {
				return nil, fmt.Errorf("encrypt field %q: %w", k, err)
			}
			out[k] = base64.StdEncoding.EncodeToString(sealed)
		case map[string]any:
			nested, err := c.EncryptFields(val)
			if err != nil {
				return nil, err
			}
			out[k] = nested
		default:
			out[k] = v
		}
	}
	return out, nil
}

// DecryptFields reverses EncryptFields. A string that does not decrypt is
// kept as-is and logged: rows written before field encryption was enabled
// still hold plaintext.
func (c *Codec) DecryptFields(ctx context.Context, m map[string]any, logger *slog.Logger) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out[k] = c.decryptField(ctx, k, val, logger)
		case map[string]any:
			out[k] = c.DecryptFields(ctx, val, logger)
		default:
			out[k] = v
		}
	}
	return out
}

func (c *Codec) decryptField(ctx context.Context, key, value string, logger *slog.Logger) string {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err == nil {
		var plain []byte
		if plain, err = c.Decrypt(raw); err == nil {
			return string(plain)
		}
	}
	if logger != nil {
		logger.WarnContext(ctx, "field did not decrypt, using stored value", "field", key, "error", err)
	}
	return value
}
