package pair

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"proxsignal/pkg/errors"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func mustKey(t *testing.T, x, y string) Key {
	k, ok := NewKey(x, y)
	require.True(t, ok)
	return k
}

func TestNewKey_Is_Unordered(t *testing.T) {
	req := require.New(t)

	ab, ok := NewKey("a", "b")
	req.True(ok)
	ba, ok := NewKey("b", "a")
	req.True(ok)
	req.Equal(ab, ba)
	req.Equal("a", ab.A)
	req.Equal("b", ab.Other("a"))
	req.Equal("a", ab.Other("b"))
	req.Equal("a-b", ab.String())

	_, ok = NewKey("a", "a")
	req.False(ok)
	_, ok = NewKey("", "a")
	req.False(ok)
}

func TestInspect(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		kind    Kind
		err     bool
	}{
		{"offer", `{"sdp":{"type":"offer","sdp":"v=0"}}`, KindOffer, false},
		{"answer", `{"sdp":{"type":"answer","sdp":"v=0"}}`, KindAnswer, false},
		{"pranswer", `{"sdp":{"type":"pranswer"}}`, KindOther, false},
		{"candidate", `{"candidate":{"candidate":"candidate:1 1 udp","sdpMid":"0"}}`, KindCandidate, false},
		{"end of candidates", `{"candidate":null}`, KindCandidate, false},
		{"sdp without type", `{"sdp":{"sdp":"v=0"}}`, 0, true},
		{"sdp not an object", `{"sdp":"v=0"}`, 0, true},
		{"no discriminator", `{"foo":1}`, 0, true},
		{"not an object", `[1,2]`, 0, true},
		{"null", `null`, 0, true},
		{"garbage", `{{`, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kind, err := Inspect(json.RawMessage(tc.payload))
			if tc.err {
				require.ErrorIs(t, err, errors.ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.kind, kind)
		})
	}
}

func TestTracker_Admit_Once_Per_Pair(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "p1", "p2")

	// Given a pair is admitted
	req.True(tracker.Admit(key))
	req.Equal(Initiating, tracker.State(key))

	// When proximity fires again in every non absent state
	req.False(tracker.Admit(key))
	_, err := tracker.Observe(key, KindOffer)
	req.NoError(err)
	req.False(tracker.Admit(key))
	_, err = tracker.Observe(key, KindAnswer)
	req.NoError(err)

	// Then it is ignored
	req.False(tracker.Admit(mustKey(t, "p2", "p1")))
	req.Equal(Established, tracker.State(key))
}

func TestTracker_Admit_Concurrently_Admits_One(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "p1", "p2")

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tracker.Admit(key) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	req.Equal(int32(1), admitted.Load())
}

func TestTracker_Observe_Transitions(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "p1", "p2")
	req.True(tracker.Admit(key))

	tr, err := tracker.Observe(key, KindCandidate)
	req.NoError(err)
	req.Equal(Transition{Key: key, From: Initiating, To: Negotiating}, tr)

	tr, err = tracker.Observe(key, KindOffer)
	req.NoError(err)
	req.False(tr.Changed())

	tr, err = tracker.Observe(key, KindAnswer)
	req.NoError(err)
	req.Equal(Transition{Key: key, From: Negotiating, To: Established}, tr)

	// A late candidate after establishment leaves the pair established
	tr, err = tracker.Observe(key, KindCandidate)
	req.NoError(err)
	req.False(tr.Changed())
	req.Equal(Established, tracker.State(key))
}

func TestTracker_Observe_Answer_Straight_From_Initiating(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "p1", "p2")
	req.True(tracker.Admit(key))

	tr, err := tracker.Observe(key, KindAnswer)
	req.NoError(err)
	req.Equal(Established, tr.To)
}

func TestTracker_Observe_Stale_Pair(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "p1", "p2")

	tr, err := tracker.Observe(key, KindAnswer)

	req.ErrorIs(err, errors.ErrStalePairReference)
	req.False(tr.Changed())
	req.Empty(tracker.Sessions())
}

func TestTracker_CloseAll_Frees_Pairs_Of_Participant(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	ab := mustKey(t, "a", "b")
	ac := mustKey(t, "a", "c")
	bc := mustKey(t, "b", "c")
	req.True(tracker.Admit(ab))
	req.True(tracker.Admit(ac))
	req.True(tracker.Admit(bc))
	_, err := tracker.Observe(ab, KindAnswer)
	req.NoError(err)

	// When a disconnects
	closed := tracker.CloseAll("a")

	// Then only its pairs are absent
	req.Equal([]Key{ab, ac}, closed)
	req.Equal(Absent, tracker.State(ab))
	req.Equal(Absent, tracker.State(ac))
	req.Equal(Initiating, tracker.State(bc))
	req.Equal([]Key{bc}, tracker.Keys())

	// And the freed pair can be admitted again
	req.True(tracker.Admit(ab))
	req.Equal(Initiating, tracker.State(ab))
	req.Empty(tracker.CloseAll("nobody"))
}

func TestTracker_Close(t *testing.T) {
	req := require.New(t)
	tracker := NewTracker()
	key := mustKey(t, "a", "b")
	req.True(tracker.Admit(key))

	req.True(tracker.Close(key))
	req.False(tracker.Close(key))
	req.Equal(Absent, tracker.State(key))
}

func TestTracker_Expire_Stuck_Negotiations(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := NewTracker(WithNegotiationTimeout(10*time.Second), WithClock(clock.now))
	stuck := mustKey(t, "a", "b")
	done := mustKey(t, "c", "d")
	fresh := mustKey(t, "e", "f")

	// Given one pair negotiating and one established
	req.True(tracker.Admit(stuck))
	_, _ = tracker.Observe(stuck, KindOffer)
	req.True(tracker.Admit(done))
	_, _ = tracker.Observe(done, KindAnswer)

	// And a pair admitted later
	clock.advance(6 * time.Second)
	req.True(tracker.Admit(fresh))

	// When the timeout elapses for the first pairs only
	clock.advance(5 * time.Second)
	expired := tracker.Expire()

	// Then only the stuck pair reverts to absent
	req.Equal([]Key{stuck}, expired)
	req.Equal(Absent, tracker.State(stuck))
	req.Equal(Established, tracker.State(done))
	req.Equal(Initiating, tracker.State(fresh))
}

func TestTracker_Expire_Spares_Active_Negotiation(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	tracker := NewTracker(WithNegotiationTimeout(10*time.Second), WithClock(clock.now))
	key := mustKey(t, "a", "b")

	// Given a pair still trading candidates close to its deadline
	req.True(tracker.Admit(key))
	_, _ = tracker.Observe(key, KindOffer)
	clock.advance(8 * time.Second)
	tr, err := tracker.Observe(key, KindCandidate)
	req.NoError(err)
	req.False(tr.Changed())

	// When the timeout since admission has passed
	clock.advance(5 * time.Second)

	// Then the pair is kept
	req.Empty(tracker.Expire())
	req.Equal(Negotiating, tracker.State(key))

	// And it expires once the candidates stop
	clock.advance(6 * time.Second)
	req.Equal([]Key{key}, tracker.Expire())
	req.Equal(Absent, tracker.State(key))
}

func TestTracker_Expire_Disabled(t *testing.T) {
	req := require.New(t)
	clock := &fakeClock{t: time.Now()}
	tracker := NewTracker(WithNegotiationTimeout(0), WithClock(clock.now))
	key := mustKey(t, "a", "b")
	req.True(tracker.Admit(key))

	clock.advance(time.Hour)

	req.Empty(tracker.Expire())
	req.Equal(Initiating, tracker.State(key))
}
