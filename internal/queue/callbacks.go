package queue

import (
	"encoding/json"
	"fmt"

	"batchexports/internal/types"
)

// Callback is one decoded engine callback message. Exactly one of the
// payload fields is set, matching Kind.
type Callback struct {
	Kind             types.CallbackKind
	RunStarted       *types.RunStartedEvent
	RunFinished      *types.RunFinishedEvent
	BackfillFinished *types.BackfillFinishedEvent
}

type callbackEnvelope struct {
	Kind    types.CallbackKind `json:"kind"`
	Payload json.RawMessage    `json:"payload"`
}

// EncodeCallback wraps payload in the callback envelope. Workers and tests use
// it to produce messages DecodeCallback accepts.
func EncodeCallback(kind types.CallbackKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(callbackEnvelope{Kind: kind, Payload: raw})
}

// DecodeCallback parses an SQS message body.
func DecodeCallback(body []byte) (Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Callback{}, fmt.Errorf("queue: malformed callback: %w", err)
	}

	cb := Callback{Kind: env.Kind}
	var target any
	switch env.Kind {
	case types.CallbackRunStarted:
		cb.RunStarted = &types.RunStartedEvent{}
		target = cb.RunStarted
	case types.CallbackRunFinished:
		cb.RunFinished = &types.RunFinishedEvent{}
		target = cb.RunFinished
	case types.CallbackBackfillFinished:
		cb.BackfillFinished = &types.BackfillFinishedEvent{}
		target = cb.BackfillFinished
	default:
		return Callback{}, fmt.Errorf("queue: unknown callback kind %q", env.Kind)
	}
	if len(env.Payload) == 0 {
		return Callback{}, fmt.Errorf("queue: callback %s has no payload", env.Kind)
	}
	if err := json.Unmarshal(env.Payload, target); err != nil {
		return Callback{}, fmt.Errorf("queue: malformed %s payload: %w", env.Kind, err)
	}
	return cb, nil
}
