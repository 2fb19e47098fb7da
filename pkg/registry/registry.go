// Package registry holds the authoritative position state of every connected participant.
package registry

import (
	"fmt"
	"math/rand"
	"sync"

	"proxsignal/pkg/errors"
)

const (
	DefaultArea   = 500.0
	DefaultRadius = 10.0
)

type Participant struct {
	ID    string  `json:"-"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	R     float64 `json:"r"`
	Color string  `json:"color"`
}

type Registry struct {
	mu           sync.RWMutex
	participants map[string]Participant
	area         float64
	radius       float64
	rnd          func() float64
}

type Option func(*Registry)

// WithArea bounds random spawn positions to [0, area) on each axis.
func WithArea(area float64) Option {
	return func(r *Registry) { r.area = area }
}

func WithRadius(radius float64) Option {
	return func(r *Registry) { r.radius = radius }
}

// WithRand replaces the random source, used by tests to pin spawn positions.
func WithRand(rnd func() float64) Option {
	return func(r *Registry) { r.rnd = rnd }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		participants: make(map[string]Participant),
		area:         DefaultArea,
		radius:       DefaultRadius,
		rnd:          rand.Float64,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a participant at a random position inside the working area.
func (r *Registry) Register(id string) (Participant, error) {
	if id == "" {
		return Participant{}, errors.ErrInvalidIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; ok {
		return Participant{}, fmt.Errorf("%w: %s", errors.ErrDuplicateIdentity, id)
	}
	p := Participant{
		ID:    id,
		X:     r.area * r.rnd(),
		Y:     r.area * r.rnd(),
		R:     r.radius,
		Color: r.color(),
	}
	r.participants[id] = p
	return p, nil
}

func (r *Registry) color() string {
	h := int(r.rnd() * 360)
	s := int(r.rnd() * 100)
	l := int(r.rnd() * 100)
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", h, s, l)
}

// UpdatePosition overwrites x and y. It reports false when the participant is
// gone, which happens when a disconnect overtakes an in-flight update.
func (r *Registry) UpdatePosition(id string, x, y float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[id]
	if !ok {
		return false
	}
	p.X, p.Y = x, y
	r.participants[id] = p
	return true
}

// Remove is idempotent and reports whether anything was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.participants[id]; !ok {
		return false
	}
	delete(r.participants, id)
	return true
}

func (r *Registry) Get(id string) (Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	return p, ok
}

func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Snapshot returns a copy; later mutations are not reflected in it.
func (r *Registry) Snapshot() map[string]Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Participant, len(r.participants))
	for id, p := range r.participants {
		out[id] = p
	}
	return out
}
