// Package proximity finds participant pairs close enough to talk.
package proximity

import (
	"math"
	"sort"

	"proxsignal/pkg/pair"
	"proxsignal/pkg/registry"

	"github.com/samber/lo"
)

const (
	DefaultThreshold     = 50.0
	DefaultExitThreshold = 60.0
)

// Evaluator scans every unordered pair. A pair enters proximity at Threshold
// and only counts as separated once it is farther apart than ExitThreshold.
type Evaluator struct {
	Threshold     float64
	ExitThreshold float64
}

func NewEvaluator(threshold, exit float64) *Evaluator {
	if exit < threshold {
		exit = threshold
	}
	return &Evaluator{Threshold: threshold, ExitThreshold: exit}
}

func Distance(a, b registry.Participant) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// Evaluate returns every pair within Threshold, ordered by key. It does not
// know about sessions; filtering out pairs already in progress is the tracker's job.
func (e *Evaluator) Evaluate(snapshot map[string]registry.Participant) []pair.Key {
	ids := sortedIDs(snapshot)
	var keys []pair.Key
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if Distance(snapshot[ids[i]], snapshot[ids[j]]) <= e.Threshold {
				key, _ := pair.NewKey(ids[i], ids[j])
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// Within reports whether both members are present and no farther apart than ExitThreshold.
func (e *Evaluator) Within(snapshot map[string]registry.Participant, key pair.Key) bool {
	a, okA := snapshot[key.A]
	b, okB := snapshot[key.B]
	return okA && okB && Distance(a, b) <= e.ExitThreshold
}

// Separated returns the keys whose members moved apart or are no longer known.
func (e *Evaluator) Separated(snapshot map[string]registry.Participant, keys []pair.Key) []pair.Key {
	return lo.Filter(keys, func(key pair.Key, _ int) bool {
		return !e.Within(snapshot, key)
	})
}

func sortedIDs(snapshot map[string]registry.Participant) []string {
	ids := lo.Keys(snapshot)
	sort.Strings(ids)
	return ids
}
