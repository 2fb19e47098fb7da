package pair

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"proxsignal/pkg/errors"

	"github.com/samber/lo"
)

type State int

const (
	Absent State = iota
	Initiating
	Negotiating
	Established
)

func (s State) String() string {
	switch s {
	case Initiating:
		return "initiating"
	case Negotiating:
		return "negotiating"
	case Established:
		return "established"
	default:
		return "absent"
	}
}

// InProgress reports whether the state is waiting on an answer.
func (s State) InProgress() bool {
	return s == Initiating || s == Negotiating
}

type Session struct {
	Key       Key
	State     State
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Transition struct {
	Key  Key
	From State
	To   State
}

func (t Transition) Changed() bool {
	return t.From != t.To
}

const DefaultNegotiationTimeout = 30 * time.Second

// entry guards one pair. A deleted entry is marked dead so callers that
// loaded it before the delete never resurrect it.
type entry struct {
	mu      sync.Mutex
	session Session
	dead    bool
}

// Tracker is a per-key state machine. Entries live in a sync.Map so unrelated
// pairs never contend on a shared lock.
type Tracker struct {
	entries sync.Map // Key -> *entry
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Tracker)

// WithNegotiationTimeout sets how long a pair may stay Initiating or Negotiating. Zero disables expiry.
func WithNegotiationTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		timeout: DefaultNegotiationTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Admit moves an Absent pair to Initiating. It returns false for any pair
// that already has a session, whatever its state.
func (t *Tracker) Admit(key Key) bool {
	now := t.now()
	e := &entry{session: Session{Key: key, State: Initiating, CreatedAt: now, UpdatedAt: now}}
	for {
		actual, loaded := t.entries.LoadOrStore(key, e)
		if !loaded {
			return true
		}
		existing := actual.(*entry)
		existing.mu.Lock()
		dead := existing.dead
		existing.mu.Unlock()
		if !dead {
			return false
		}
		// lost a race with Close; the dead entry is already gone or about to be
		t.entries.CompareAndDelete(key, existing)
	}
}

// Observe applies a relayed signal of the given kind. An answer for a pair
// without a session returns ErrStalePairReference; callers treat it as
// established anyway.
func (t *Tracker) Observe(key Key, kind Kind) (Transition, error) {
	e, ok := t.load(key)
	if !ok {
		return Transition{Key: key, From: Absent, To: Absent}, fmt.Errorf("%w %s", errors.ErrStalePairReference, key)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Transition{Key: key, From: Absent, To: Absent}, fmt.Errorf("%w %s", errors.ErrStalePairReference, key)
	}

	tr := Transition{Key: key, From: e.session.State, To: e.session.State}
	switch kind {
	case KindAnswer:
		if e.session.State.InProgress() {
			tr.To = Established
		}
	case KindOffer, KindCandidate, KindOther:
		if e.session.State == Initiating {
			tr.To = Negotiating
		}
	}
	if tr.Changed() || tr.From.InProgress() {
		e.session.State = tr.To
		e.session.UpdatedAt = t.now()
	}
	return tr, nil
}

// Close deletes the session for key. It reports whether one existed.
func (t *Tracker) Close(key Key) bool {
	e, ok := t.load(key)
	if !ok {
		return false
	}
	return t.kill(key, e, func(Session) bool { return true })
}

// CloseAll deletes every session referencing id and returns their keys in order.
func (t *Tracker) CloseAll(id string) []Key {
	var closed []Key
	t.entries.Range(func(k, v any) bool {
		key := k.(Key)
		if key.Has(id) && t.kill(key, v.(*entry), func(Session) bool { return true }) {
			closed = append(closed, key)
		}
		return true
	})
	sortKeys(closed)
	return closed
}

// Expire reverts pairs in Initiating or Negotiating that saw no signal for
// longer than the negotiation timeout to Absent.
func (t *Tracker) Expire() []Key {
	if t.timeout <= 0 {
		return nil
	}
	deadline := t.now().Add(-t.timeout)
	var expired []Key
	t.entries.Range(func(k, v any) bool {
		key := k.(Key)
		stuck := func(s Session) bool {
			return s.State.InProgress() && s.UpdatedAt.Before(deadline)
		}
		if t.kill(key, v.(*entry), stuck) {
			expired = append(expired, key)
		}
		return true
	})
	sortKeys(expired)
	return expired
}

func (t *Tracker) State(key Key) State {
	s, ok := t.Session(key)
	if !ok {
		return Absent
	}
	return s.State
}

func (t *Tracker) Session(key Key) (Session, bool) {
	e, ok := t.load(key)
	if !ok {
		return Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Session{}, false
	}
	return e.session, true
}

// Sessions lists live sessions ordered by key.
func (t *Tracker) Sessions() []Session {
	var out []Session
	t.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.dead {
			out = append(out, e.session)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Keys lists the keys of live sessions ordered by key.
func (t *Tracker) Keys() []Key {
	return lo.Map(t.Sessions(), func(s Session, _ int) Key {
		return s.Key
	})
}

func (t *Tracker) load(key Key) (*entry, bool) {
	v, ok := t.entries.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (t *Tracker) kill(key Key, e *entry, when func(Session) bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !when(e.session) {
		return false
	}
	e.dead = true
	t.entries.CompareAndDelete(key, e)
	return true
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Counts returns the number of live sessions per state name.
func (t *Tracker) Counts() map[string]int {
	counts := map[string]int{
		Initiating.String():  0,
		Negotiating.String(): 0,
		Established.String(): 0,
	}
	for _, s := range t.Sessions() {
		counts[s.State.String()]++
	}
	return counts
}
