package utils

import (
	"encoding/json"
	"fmt"

	"github.com/sugawarayuuta/sonnet"
)

// Envelope is the wire frame exchanged with participants: {"type": ..., "data": {...}}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope of the given type.
func Encode(eventType string, data interface{}) ([]byte, error) {
	raw, err := sonnet.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", eventType, err)
	}
	return sonnet.Marshal(Envelope{Type: eventType, Data: raw})
}

// Decode parses an inbound frame. The data field is kept raw for the handler of that type.
func Decode(message []byte) (Envelope, error) {
	var env Envelope
	if err := sonnet.Unmarshal(message, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodeData unmarshals the data part of an envelope into v.
func DecodeData(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	if err := sonnet.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: %w", env.Type, err)
	}
	return nil
}
