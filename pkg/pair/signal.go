package pair

import (
	"encoding/json"

	"proxsignal/pkg/errors"

	"github.com/sugawarayuuta/sonnet"
)

type Kind int

const (
	KindOffer Kind = iota + 1
	KindAnswer
	KindCandidate
	// KindOther is an sdp description whose type is neither offer nor answer (pranswer, rollback).
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindOffer:
		return "offer"
	case KindAnswer:
		return "answer"
	case KindCandidate:
		return "candidate"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Inspect reads the discriminator of a signaling payload and nothing else.
// Payloads are either {"sdp": {"type": ...}} or {"candidate": ...}.
func Inspect(signalData json.RawMessage) (Kind, error) {
	var fields map[string]json.RawMessage
	if err := sonnet.Unmarshal(signalData, &fields); err != nil || fields == nil {
		return 0, errors.ErrMalformedPayload
	}
	if raw, ok := fields["sdp"]; ok {
		var sdp struct {
			Type string `json:"type"`
		}
		if err := sonnet.Unmarshal(raw, &sdp); err != nil || sdp.Type == "" {
			return 0, errors.ErrMalformedPayload
		}
		switch sdp.Type {
		case "offer":
			return KindOffer, nil
		case "answer":
			return KindAnswer, nil
		default:
			return KindOther, nil
		}
	}
	// {"candidate": null} marks end of candidates and is still a candidate message.
	if _, ok := fields["candidate"]; ok {
		return KindCandidate, nil
	}
	return 0, errors.ErrMalformedPayload
}
