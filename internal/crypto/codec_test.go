package crypto

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T, key string) *Codec {
	t.Helper()
	c, err := NewCodec([]byte(key))
	require.NoError(t, err)
	return c
}

func TestCodec_EncryptDecrypt(t *testing.T) {
	c := newTestCodec(t, "short-key")

	sealed, err := c.Encrypt([]byte("aws-secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "aws-secret")

	plain, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "aws-secret", string(plain))
}

func TestCodec_FreshNoncePerCall(t *testing.T) {
	c := newTestCodec(t, "k")
	a, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCodec_KeyNormalization(t *testing.T) {
	// A key and the same key padded with zero bytes are equivalent.
	padded := newTestCodec(t, "secret"+string(make([]byte, 26)))
	short := newTestCodec(t, "secret")

	sealed, err := short.Encrypt([]byte("x"))
	require.NoError(t, err)
	plain, err := padded.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "x", string(plain))

	// Bytes past 32 are ignored.
	long := newTestCodec(t, string(bytes.Repeat([]byte("a"), 32))+"ignored")
	exact := newTestCodec(t, string(bytes.Repeat([]byte("a"), 32)))
	sealed, err = long.Encrypt([]byte("y"))
	require.NoError(t, err)
	_, err = exact.Decrypt(sealed)
	require.NoError(t, err)
}

func TestCodec_DecryptFailures(t *testing.T) {
	c := newTestCodec(t, "key-one")
	other := newTestCodec(t, "key-two")

	sealed, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)

	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt, "wrong key")

	tampered := bytes.Clone(sealed)
	tampered[len(tampered)-1] ^= 0xff
	_, err = c.Decrypt(tampered)
	assert.ErrorIs(t, err, ErrDecrypt, "tampered")

	_, err = c.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrDecrypt, "short")
}

func TestNewCodec_EmptyKey(t *testing.T) {
	_, err := NewCodec(nil)
	assert.Error(t, err)
}

func TestCodec_Fields(t *testing.T) {
	c := newTestCodec(t, "fields")
	in := map[string]any{
		"bucket_name": "exports",
		"port":        float64(5432),
		"enabled":     true,
		"headers":     map[string]any{"Authorization": "Bearer t"},
	}

	enc, err := c.EncryptFields(in)
	require.NoError(t, err)
	assert.NotEqual(t, "exports", enc["bucket_name"])
	assert.Equal(t, float64(5432), enc["port"])
	assert.Equal(t, true, enc["enabled"])
	assert.NotEqual(t, "Bearer t", enc["headers"].(map[string]any)["Authorization"])

	dec := c.DecryptFields(context.Background(), enc, slog.New(slog.DiscardHandler))
	assert.Equal(t, in, dec)
}

func TestCodec_DecryptFieldsLegacyPlaintext(t *testing.T) {
	c := newTestCodec(t, "fields")
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))

	other := newTestCodec(t, "rotated")
	sealed, err := other.Encrypt([]byte("x"))
	require.NoError(t, err)
	foreign := base64.StdEncoding.EncodeToString(sealed)

	dec := c.DecryptFields(context.Background(), map[string]any{
		"host":  "db.internal",
		"other": foreign,
	}, logger)

	assert.Equal(t, "db.internal", dec["host"])
	assert.Equal(t, foreign, dec["other"])
	assert.Contains(t, logs.String(), "field did not decrypt")
}

func TestPayloadCodec_EncodeDecode(t *testing.T) {
	pc, err := NewPayloadCodec(newTestCodec(t, "payload"))
	require.NoError(t, err)

	args := []byte(`{"team_id":1,"batch_export_id":"abc","interval":"hour"}`)
	p, err := pc.Encode(args)
	require.NoError(t, err)
	assert.Equal(t, MetadataEncodingEncrypted, p.Metadata[MetadataEncodingKey])
	assert.NotContains(t, string(p.Data), "batch_export_id")

	out, err := pc.Decode(p)
	require.NoError(t, err)
	assert.Equal(t, args, out)
}

func TestPayloadCodec_PassthroughAndTamper(t *testing.T) {
	pc, err := NewPayloadCodec(newTestCodec(t, "payload"))
	require.NoError(t, err)

	out, err := pc.Decode(Payload{Data: []byte("plain")})
	require.NoError(t, err)
	assert.Equal(t, "plain", string(out))

	p, err := pc.Encode([]byte("x"))
	require.NoError(t, err)
	p.Data[len(p.Data)-1] ^= 0x01
	_, err = pc.Decode(p)
	assert.ErrorIs(t, err, ErrDecrypt)
}
