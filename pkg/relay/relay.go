// Package relay forwards opaque signaling payloads between two registered participants.
package relay

import (
	"encoding/json"
	"fmt"

	"proxsignal/pkg/errors"
	"proxsignal/pkg/utils"
)

const EventSignal = "signal"

// Directory answers whether a participant is currently registered.
type Directory interface {
	Contains(id string) bool
}

// Sender delivers an encoded frame to a single participant.
type Sender interface {
	Send(id string, message []byte) error
}

// Outbound is the relayed frame: the payload is forwarded byte for byte.
type Outbound struct {
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData"`
}

type Relay struct {
	directory Directory
	sender    Sender
}

func New(directory Directory, sender Sender) *Relay {
	return &Relay{directory: directory, sender: sender}
}

// Relay forwards signalData to `to`. It fails closed with ErrUnknownTarget when
// the target is not registered; nothing is sent in that case.
func (r *Relay) Relay(from, to string, signalData json.RawMessage) error {
	if !r.directory.Contains(to) {
		return fmt.Errorf("%w: %s", errors.ErrUnknownTarget, to)
	}
	frame, err := utils.Encode(EventSignal, Outbound{From: from, SignalData: signalData})
	if err != nil {
		return err
	}
	if err := r.sender.Send(to, frame); err != nil {
		return fmt.Errorf("relay %s -> %s: %w", from, to, err)
	}
	return nil
}
