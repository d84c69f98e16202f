// ABOUTME: Wire envelope exchanged on both controller sockets
// ABOUTME: Encodes and validates the {context, type, data} JSON unit

package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope errors
var (
	ErrMissingContext = errors.New("missing field: context")
	ErrMissingType    = errors.New("missing field: type")
)

// emptyData is sent when a caller supplies no payload. The controller
// expects an object, never null.
var emptyData = json.RawMessage(`{}`)

// Envelope is the canonical wire wrapper. There is no message id: matching
// relies on per-channel arrival order only.
type Envelope struct {
	Context Context         `json:"context"`
	Type    Type            `json:"type"`
	Data    json.RawMessage `json:"data"`
}

// New builds an envelope, marshalling data. A nil data value becomes {}.
func New(ctx Context, typ Type, data any) (Envelope, error) {
	env := Envelope{Context: ctx, Type: typ, Data: emptyData}
	if data == nil {
		return env, env.Validate()
	}

	if raw, ok := data.(json.RawMessage); ok {
		if len(bytes.TrimSpace(raw)) > 0 {
			env.Data = raw
		}
		return env, env.Validate()
	}

	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshalling %s/%s data: %w", ctx, typ, err)
	}
	env.Data = b
	return env, env.Validate()
}

// Validate performs structural validation.
func (e Envelope) Validate() error {
	if strings.TrimSpace(string(e.Context)) == "" {
		return ErrMissingContext
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return ErrMissingType
	}
	return nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if len(e.Data) == 0 {
		e.Data = emptyData
	}
	return json.Marshal(e)
}

// Decode parses a wire frame. A missing or null data field decodes as {}.
func Decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.Data) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		env.Data = emptyData
	}
	return env, nil
}

// String is used in log lines.
func (e Envelope) String() string {
	return string(e.Context) + "/" + string(e.Type)
}
