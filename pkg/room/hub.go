//go:generate go run go.uber.org/mock/mockgen -source=hub.go -destination=../../mocks/mock_hub.go -package=mocks
package room

// Hub delivers encoded frames to connected participants. Sends are fire and forget.
type Hub interface {
	Send(id string, message []byte) error
	Broadcast(message []byte)
}
