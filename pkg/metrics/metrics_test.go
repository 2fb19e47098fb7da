package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type population int

func (p population) Len() int { return int(p) }

type sessions map[string]int

func (s sessions) Counts() map[string]int { return s }

func TestMetrics_Watch_Reports_Live_State(t *testing.T) {
	req := require.New(t)
	m := New()
	m.Watch(population(3), sessions{"initiating": 1, "negotiating": 0, "established": 2})

	expected := `
# HELP presence_participants Currently registered participants.
# TYPE presence_participants gauge
presence_participants 3
# HELP presence_pair_sessions Live pair sessions by state.
# TYPE presence_pair_sessions gauge
presence_pair_sessions{state="established"} 2
presence_pair_sessions{state="initiating"} 1
presence_pair_sessions{state="negotiating"} 0
`
	req.NoError(testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected),
		"presence_participants", "presence_pair_sessions"))
}

func TestMetrics_Handler_Serves_Counters(t *testing.T) {
	req := require.New(t)
	m := New()
	m.Admissions.Inc()
	m.SignalsDropped.WithLabelValues("unknown_target").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "presence_pair_admissions_total 1")
	req.Contains(rec.Body.String(), `presence_signals_dropped_total{reason="unknown_target"} 1`)
}
