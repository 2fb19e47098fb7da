package room

import (
	"encoding/json"
	"strings"

	"proxsignal/pkg/pair"
	"proxsignal/pkg/utils"

	"github.com/go-playground/validator/v10"
)

const (
	UpdatePosition     = "updatePosition"     // 位置更新
	ProximityDetected  = "proximityDetected"  // 客户端上报的邻近事件
	Signal             = "signal"             // offer/answer/candidate
	PlayerDisconnected = "playerDisconnected" // 离开

	Welcome           = "welcome"
	BackendPlayers    = "backendPlayers" // 全量玩家列表
	InitiateCall      = "initiateCall"
	CallConnected     = "callConnected"
	ConnectionSuccess = "connectionSuccess"
	CallEnded         = "callEnded" // 挂断
)

const (
	reasonDisconnect = "disconnect"
	reasonSeparated  = "separated"
	reasonTimeout    = "timeout"
)

var validate = validator.New()

type positionUpdate struct {
	ID string  `json:"id" validate:"required"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type proximityReport struct {
	Player1ID string `json:"player1Id" validate:"required"`
	Player2ID string `json:"player2Id" validate:"required,nefield=Player1ID"`
}

type signalMessage struct {
	To         string          `json:"to" validate:"required"`
	From       string          `json:"from"`
	SignalData json.RawMessage `json:"signalData" validate:"required"`
}

type departure struct {
	ID string `json:"id" validate:"required"`
}

type welcomeMessage struct {
	ID string `json:"id"`
}

// initiateCallMessage tells one side of a pair to start negotiating with OtherID.
// Exactly one side of the pair is the initiator, so only one offer is created.
type initiateCallMessage struct {
	OtherID   string `json:"otherId"`
	Initiator bool   `json:"initiator"`
}

type pairMessage struct {
	Player1ID string `json:"player1Id"`
	Player2ID string `json:"player2Id"`
	Reason    string `json:"reason,omitempty"`
}

func pairOf(key pair.Key) pairMessage {
	return pairMessage{Player1ID: key.A, Player2ID: key.B}
}

func decodeValid(env utils.Envelope, v interface{}) error {
	if err := utils.DecodeData(env, v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// decodeDeparture accepts {"id": "..."} as well as a bare JSON string id.
func decodeDeparture(env utils.Envelope) (departure, error) {
	var d departure
	if raw := strings.TrimSpace(string(env.Data)); strings.HasPrefix(raw, `"`) {
		if err := utils.DecodeData(env, &d.ID); err != nil {
			return departure{}, err
		}
		return d, validate.Struct(d)
	}
	return d, decodeValid(env, &d)
}
