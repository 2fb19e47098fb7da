package server

import (
	"sync"

	errs "proxsignal/pkg/errors"
	"proxsignal/pkg/utils"
)

// Hub maps participant identities to their live connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*WebSocketConn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*WebSocketConn)}
}

func (h *Hub) Add(conn *WebSocketConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn.ID()] = conn
}

// Remove drops conn only if it is still the one registered under its id.
func (h *Hub) Remove(conn *WebSocketConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.conns[conn.ID()]; ok && current == conn {
		delete(h.conns, conn.ID())
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Send delivers to one participant. Delivery is not retried.
func (h *Hub) Send(id string, message []byte) error {
	h.mu.RLock()
	conn, ok := h.conns[id]
	h.mu.RUnlock()
	if !ok {
		return errs.ErrConnectionClosed
	}
	return conn.Send(message)
}

// Broadcast sends to every connection; failures are logged and skipped.
func (h *Hub) Broadcast(message []byte) {
	for _, conn := range h.snapshot() {
		if err := conn.Send(message); err != nil {
			utils.WarnF("broadcast to %s failed: %v", conn.ID(), err)
		}
	}
}

func (h *Hub) CloseAll() {
	for _, conn := range h.snapshot() {
		_ = conn.Close()
	}
}

func (h *Hub) snapshot() []*WebSocketConn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	conns := make([]*WebSocketConn, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}
