package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	"proxsignal/mocks"
	"proxsignal/pkg/errors"
	"proxsignal/pkg/registry"
	"proxsignal/pkg/utils"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestRelay_Forwards_Payload_To_Target_Only(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockHub(ctrl)
	reg := registry.New()
	_, err := reg.Register("p2")
	req.NoError(err)
	payload := json.RawMessage(`{"sdp":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 127.0.0.1"}}`)

	// Given p2 is registered
	// Then exactly one frame is sent to p2, carrying the sender and the payload
	hub.EXPECT().Send("p2", gomock.Any()).DoAndReturn(func(id string, message []byte) error {
		env, err := utils.Decode(message)
		req.NoError(err)
		req.Equal(EventSignal, env.Type)
		var out Outbound
		req.NoError(utils.DecodeData(env, &out))
		req.Equal("p1", out.From)
		req.JSONEq(string(payload), string(out.SignalData))
		return nil
	}).Times(1)

	// When p1 relays to p2
	req.NoError(New(reg, hub).Relay("p1", "p2", payload))
}

func TestRelay_Fails_Closed_On_Unknown_Target(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockHub(ctrl)
	reg := registry.New()
	_, err := reg.Register("p2")
	req.NoError(err)
	reg.Remove("p2")

	hub.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

	err = New(reg, hub).Relay("p1", "p2", json.RawMessage(`{"candidate":null}`))
	req.ErrorIs(err, errors.ErrUnknownTarget)
}

func TestRelay_Reports_Send_Failure(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	hub := mocks.NewMockHub(ctrl)
	reg := registry.New()
	_, err := reg.Register("p2")
	req.NoError(err)

	hub.EXPECT().Send("p2", gomock.Any()).Return(fmt.Errorf("broken pipe"))

	err = New(reg, hub).Relay("p1", "p2", json.RawMessage(`{"candidate":null}`))
	req.Error(err)
	req.NotErrorIs(err, errors.ErrUnknownTarget)
}
