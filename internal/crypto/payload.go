package crypto

import (
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Payload metadata values understood by workers decoding workflow arguments.
const (
	MetadataEncodingKey       = "encoding"
	MetadataEncodingEncrypted = "binary/encrypted"
)

// Payload is an opaque workflow argument as sent to the workflow engine.
type Payload struct {
	Metadata map[string]string `json:"metadata"`
	Data     []byte            `json:"data"`
}

// PayloadCodec compresses workflow arguments with zstd and then seals them.
type PayloadCodec struct {
	codec   *Codec
	encoder *zstd.Encoder

	decoderPool sync.Pool
}

// NewPayloadCodec wraps codec with zstd compression.
func NewPayloadCodec(codec *Codec) (*PayloadCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &PayloadCodec{
		codec:   codec,
		encoder: enc,
		decoderPool: sync.Pool{
			New: func() any {
				d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
				if err != nil {
					panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
				}
				return d
			},
		},
	}, nil
}

// Encode compresses and encrypts data.
func (p *PayloadCodec) Encode(data []byte) (Payload, error) {
	compressed := p.encoder.EncodeAll(data, nil)
	sealed, err := p.codec.Encrypt(compressed)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		Metadata: map[string]string{MetadataEncodingKey: MetadataEncodingEncrypted},
		Data:     sealed,
	}, nil
}

// Decode reverses Encode. Payloads without the encrypted encoding marker are
// returned unchanged. This module only encodes; Decode is the counterpart
// used by the export workers that run the workflows.
func (p *PayloadCodec) Decode(payload Payload) ([]byte, error) {
	if payload.Metadata[MetadataEncodingKey] != MetadataEncodingEncrypted {
		return payload.Data, nil
	}
	compressed, err := p.codec.Decrypt(payload.Data)
	if err != nil {
		return nil, err
	}

	dec := p.decoderPool.Get().(*zstd.Decoder)
	defer p.decoderPool.Put(dec)

	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Join(ErrDecrypt, fmt.Errorf("decompress payload: %w", err))
	}
	return data, nil
}
