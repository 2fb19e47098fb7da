package errors

import "fmt"

var (
	ErrUnknownTarget      = fmt.Errorf("signal target is not registered")
	ErrDuplicateIdentity  = fmt.Errorf("participant identity already registered")
	ErrInvalidIdentity    = fmt.Errorf("participant identity is empty")
	ErrStalePairReference = fmt.Errorf("no session for pair")
	ErrMalformedPayload   = fmt.Errorf("signal payload has no sdp type or candidate")
	ErrUnknownEvent       = fmt.Errorf("unknown event type")
	ErrConnectionClosed   = fmt.Errorf("websocket: write closed")
)
