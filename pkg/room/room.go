// Package room is the coordinator of the shared space: it turns transport
// events into registry, proximity, pair and relay operations and notifies
// participants of the results.
package room

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sync"
	"time"

	errs "proxsignal/pkg/errors"
	"proxsignal/pkg/metrics"
	"proxsignal/pkg/pair"
	"proxsignal/pkg/proximity"
	"proxsignal/pkg/registry"
	"proxsignal/pkg/relay"
	"proxsignal/pkg/server"
	"proxsignal/pkg/utils"
)

type EventKind int

const (
	Connected EventKind = iota + 1
	Inbound
	Disconnected
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Inbound:
		return "inbound"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event is one transport notification for participant ID. Payload is set for Inbound only.
type Event struct {
	Kind    EventKind
	ID      string
	Payload []byte
}

const (
	DefaultQueueSize     = 256
	DefaultSweepInterval = time.Second
)

type Coordinator struct {
	hub       Hub
	registry  *registry.Registry
	evaluator *proximity.Evaluator
	tracker   *pair.Tracker
	relay     *relay.Relay
	metrics   *metrics.Metrics

	events        chan Event
	done          chan struct{}
	doneOnce      sync.Once
	sweepInterval time.Duration
}

type Option func(*Coordinator)

func WithQueueSize(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.events = make(chan Event, n)
		}
	}
}

func WithSweepInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.sweepInterval = d
		}
	}
}

func NewCoordinator(
	hub Hub,
	reg *registry.Registry,
	evaluator *proximity.Evaluator,
	tracker *pair.Tracker,
	m *metrics.Metrics,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		hub:           hub,
		registry:      reg,
		evaluator:     evaluator,
		tracker:       tracker,
		relay:         relay.New(reg, hub),
		metrics:       m,
		events:        make(chan Event, DefaultQueueSize),
		done:          make(chan struct{}),
		sweepInterval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleWebSocket binds a new connection to the coordinator. It has the
// signature server.NewP2PServer expects.
func (c *Coordinator) HandleWebSocket(conn *server.WebSocketConn, request *http.Request) {
	id := conn.ID()
	utils.InfoF("新用户连接 %s from %s", id, request.RemoteAddr)
	conn.On("message", func(message []byte) {
		c.Dispatch(Event{Kind: Inbound, ID: id, Payload: message})
	})
	conn.On("close", func(code int, text string) {
		utils.InfoF("连接关闭 %s [%d] %s", id, code, text)
		c.Dispatch(Event{Kind: Disconnected, ID: id})
	})
	c.Dispatch(Event{Kind: Connected, ID: id})
}

// Dispatch queues an event for Run. It drops the event once Run has stopped.
func (c *Coordinator) Dispatch(evt Event) {
	select {
	case c.events <- evt:
	case <-c.done:
		utils.DebugF("coordinator stopped, dropping %s event for %s", evt.Kind, evt.ID)
	}
}

// Run applies queued events one at a time and expires stuck negotiations
// every sweep interval, until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt := <-c.events:
			c.Handle(evt)
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Handle applies a single event synchronously. A failing event never takes the coordinator down.
func (c *Coordinator) Handle(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			utils.ErrorF("panic while handling %s event for %s: %v", evt.Kind, evt.ID, r)
		}
	}()

	switch evt.Kind {
	case Connected:
		c.count(evt.Kind.String())
		c.onConnect(evt.ID)
	case Disconnected:
		c.count(evt.Kind.String())
		c.onLeave(evt.ID)
	case Inbound:
		c.onMessage(evt.ID, evt.Payload)
	default:
		utils.WarnF("unknown event kind %d for %s", evt.Kind, evt.ID)
	}
}

// Sweep reverts pairs stuck in negotiation and tells everyone the call ended.
func (c *Coordinator) Sweep() {
	for _, key := range c.tracker.Expire() {
		utils.WarnF("negotiation for %s timed out", key)
		c.endCall(key, reasonTimeout)
	}
}

func (c *Coordinator) onConnect(id string) {
	if _, err := c.registry.Register(id); err != nil {
		utils.ErrorF("register %s: %v", id, err)
		return
	}
	c.send(id, Welcome, welcomeMessage{ID: id})
	c.broadcastPlayers()
	c.evaluate()
}

func (c *Coordinator) onMessage(from string, message []byte) {
	env, err := utils.Decode(message)
	if err != nil {
		utils.WarnF("解析消息出错 %s: %v", from, err)
		c.count("invalid")
		return
	}
	switch env.Type {
	case UpdatePosition, ProximityDetected, Signal, PlayerDisconnected:
		c.count(env.Type)
	default:
		c.count("unknown")
	}

	switch env.Type {
	case UpdatePosition:
		c.onUpdatePosition(from, env)
	case ProximityDetected:
		c.onProximityDetected(from, env)
	case Signal:
		c.onSignal(from, env)
	case PlayerDisconnected:
		d, err := decodeDeparture(env)
		if err != nil {
			utils.WarnF("%s from %s: %v", env.Type, from, err)
			return
		}
		if d.ID != from {
			utils.WarnF("%s for %s sent by %s ignored", env.Type, d.ID, from)
			return
		}
		c.onLeave(d.ID)
	default:
		utils.WarnF("%v %q from %s", errs.ErrUnknownEvent, env.Type, from)
	}
}

func (c *Coordinator) onUpdatePosition(from string, env utils.Envelope) {
	var msg positionUpdate
	if err := decodeValid(env, &msg); err != nil {
		utils.WarnF("%s from %s: %v", env.Type, from, err)
		return
	}
	if msg.ID != from {
		utils.WarnF("%s for %s sent by %s ignored", env.Type, msg.ID, from)
		return
	}
	if !finite(msg.X) || !finite(msg.Y) {
		utils.WarnF("%s from %s: non finite position (%v, %v)", env.Type, from, msg.X, msg.Y)
		return
	}
	if !c.registry.UpdatePosition(msg.ID, msg.X, msg.Y) {
		utils.DebugF("position update for unknown participant %s ignored", msg.ID)
		return
	}
	c.broadcastPlayers()
	c.evaluate()
}

// onProximityDetected admits a client reported pair once the authoritative
// positions confirm it; clients may report from a stale view.
func (c *Coordinator) onProximityDetected(from string, env utils.Envelope) {
	var msg proximityReport
	if err := decodeValid(env, &msg); err != nil {
		utils.WarnF("%s from %s: %v", env.Type, from, err)
		return
	}
	key, _ := pair.NewKey(msg.Player1ID, msg.Player2ID)
	if !c.evaluator.Within(c.registry.Snapshot(), key) {
		utils.DebugF("proximity report %s from %s not confirmed", key, from)
		return
	}
	c.admit(key)
}

// onSignal relays an offer, answer or candidate. The connection identity is
// authoritative for the sender; the claimed from field is only checked.
func (c *Coordinator) onSignal(from string, env utils.Envelope) {
	var msg signalMessage
	if err := decodeValid(env, &msg); err != nil {
		utils.WarnF("%s from %s: %v", env.Type, from, err)
		c.drop("invalid")
		return
	}
	if !c.registry.Contains(from) {
		utils.WarnF("signal from unregistered %s dropped", from)
		c.drop("unknown_sender")
		return
	}
	if msg.From != "" && msg.From != from {
		utils.WarnF("signal from %s claims to be from %s", from, msg.From)
	}
	key, ok := pair.NewKey(from, msg.To)
	if !ok {
		utils.WarnF("signal from %s addressed to itself", from)
		c.drop("invalid")
		return
	}
	kind, err := pair.Inspect(msg.SignalData)
	if err != nil {
		utils.WarnF("signal %s -> %s dropped: %v", from, msg.To, err)
		c.drop("malformed")
		return
	}
	if err := c.relay.Relay(from, msg.To, msg.SignalData); err != nil {
		if errors.Is(err, errs.ErrUnknownTarget) {
			utils.WarnF("目标用户不存在, %v", err)
			c.drop("unknown_target")
			return
		}
		utils.ErrorF("%v", err)
		c.drop("send_failed")
		return
	}
	if c.metrics != nil {
		c.metrics.SignalsRelayed.WithLabelValues(kind.String()).Inc()
	}

	tr, err := c.tracker.Observe(key, kind)
	if kind != pair.KindAnswer {
		return
	}
	switch {
	case errors.Is(err, errs.ErrStalePairReference):
		utils.WarnF("answer %s -> %s: %v", from, msg.To, err)
	case !tr.Changed():
		utils.DebugF("answer for %s while %s, renegotiation", key, tr.From)
		return
	}
	if c.metrics != nil {
		c.metrics.Established.Inc()
	}
	c.broadcast(ConnectionSuccess, pairMessage{Player1ID: from, Player2ID: msg.To})
}

// onLeave handles both the transport disconnect and an explicit playerDisconnected; either may come first.
func (c *Coordinator) onLeave(id string) {
	for _, key := range c.tracker.CloseAll(id) {
		c.endCall(key, reasonDisconnect)
	}
	if c.registry.Remove(id) {
		c.broadcastPlayers()
	}
}

// evaluate ends sessions whose members drifted apart, then admits every pair in range.
func (c *Coordinator) evaluate() {
	snapshot := c.registry.Snapshot()
	for _, key := range c.evaluator.Separated(snapshot, c.tracker.Keys()) {
		if c.tracker.Close(key) {
			c.endCall(key, reasonSeparated)
		}
	}
	for _, key := range c.evaluator.Evaluate(snapshot) {
		c.admit(key)
	}
}

func (c *Coordinator) admit(key pair.Key) {
	if !c.tracker.Admit(key) {
		return
	}
	utils.InfoF("📢 %s 进入通话范围", key)
	if c.metrics != nil {
		c.metrics.Admissions.Inc()
	}
	c.send(key.A, InitiateCall, initiateCallMessage{OtherID: key.B, Initiator: true})
	c.send(key.B, InitiateCall, initiateCallMessage{OtherID: key.A})
	c.broadcast(CallConnected, pairOf(key))
}

func (c *Coordinator) endCall(key pair.Key, reason string) {
	if c.metrics != nil {
		c.metrics.SessionsEnded.WithLabelValues(reason).Inc()
	}
	msg := pairOf(key)
	msg.Reason = reason
	c.broadcast(CallEnded, msg)
}

func (c *Coordinator) broadcastPlayers() {
	c.broadcast(BackendPlayers, c.registry.Snapshot())
}

func (c *Coordinator) broadcast(eventType string, data interface{}) {
	frame, err := utils.Encode(eventType, data)
	if err != nil {
		utils.ErrorF("%v", err)
		return
	}
	c.hub.Broadcast(frame)
}

func (c *Coordinator) send(id, eventType string, data interface{}) {
	frame, err := utils.Encode(eventType, data)
	if err != nil {
		utils.ErrorF("%v", err)
		return
	}
	if err := c.hub.Send(id, frame); err != nil {
		utils.WarnF("send %s to %s: %v", eventType, id, err)
	}
}

func (c *Coordinator) count(eventType string) {
	if c.metrics != nil {
		c.metrics.EventsHandled.WithLabelValues(eventType).Inc()
	}
}

func (c *Coordinator) drop(reason string) {
	if c.metrics != nil {
		c.metrics.SignalsDropped.WithLabelValues(reason).Inc()
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
