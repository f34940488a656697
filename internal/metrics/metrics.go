// Package metrics exposes orchestrator counters in the Prometheus text format.
package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joss/clash/internal/domain"
)

// Metrics holds process-wide session counters.
type Metrics struct {
	// Sessions
	SessionsStarted   atomic.Int64
	SessionsCompleted atomic.Int64
	SessionsStopped   atomic.Int64
	SessionsFailed    atomic.Int64
	Resumes           atomic.Int64

	// Natural ends are a subset of completions
	NaturalEnds atomic.Int64

	// Turns
	Turns         atomic.Int64
	AdapterErrors atomic.Int64

	// Timing (last operation duration in ms)
	LastTurnMs    atomic.Int64
	LastPrepareMs atomic.Int64

	startTime time.Time
}

var (
	global     *Metrics
	globalOnce sync.Once
)

// New returns an empty set of counters.
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Global returns the process-wide instance.
func Global() *Metrics {
	globalOnce.Do(func() { global = New() })
	return global
}

// SessionStarted counts a new session.
func (m *Metrics) SessionStarted() { m.SessionsStarted.Add(1) }

// SessionResumed counts a continue.
func (m *Metrics) SessionResumed() { m.Resumes.Add(1) }

// SessionEnded counts a session reaching a terminal status.
func (m *Metrics) SessionEnded(status domain.Status, reason domain.EndReason) {
	switch status {
	case domain.StatusCompleted:
		m.SessionsCompleted.Add(1)
		if reason == domain.EndNatural {
			m.NaturalEnds.Add(1)
		}
	case domain.StatusStopped:
		m.SessionsStopped.Add(1)
	case domain.StatusError:
		m.SessionsFailed.Add(1)
	}
}

// RecordTurn records one agent turn. Failed turns count as adapter errors.
func (m *Metrics) RecordTurn(success bool, took time.Duration) {
	if !success {
		m.AdapterErrors.Add(1)
		return
	}
	m.Turns.Add(1)
	m.LastTurnMs.Store(took.Milliseconds())
}

// RecordPrepare records how long locating and readying both agents took.
func (m *Metrics) RecordPrepare(took time.Duration) {
	m.LastPrepareMs.Store(took.Milliseconds())
}

type series struct {
	name  string
	kind  string
	help  string
	value func() string
}

func (m *Metrics) series() []series {
	count := func(v *atomic.Int64) func() string {
		return func() string { return fmt.Sprintf("%d", v.Load()) }
	}
	return []series{
		{"clash_uptime_seconds", "gauge", "Time since the orchestrator started",
			func() string { return fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds()) }},
		{"clash_sessions_started_total", "counter", "Sessions started", count(&m.SessionsStarted)},
		{"clash_sessions_completed_total", "counter", "Sessions completed by round limit or natural end", count(&m.SessionsCompleted)},
		{"clash_sessions_natural_end_total", "counter", "Sessions ended by agent agreement", count(&m.NaturalEnds)},
		{"clash_sessions_stopped_total", "counter", "Sessions stopped or superseded", count(&m.SessionsStopped)},
		{"clash_sessions_failed_total", "counter", "Sessions ended by an error", count(&m.SessionsFailed)},
		{"clash_sessions_resumed_total", "counter", "Sessions continued", count(&m.Resumes)},
		{"clash_turns_total", "counter", "Agent turns recorded", count(&m.Turns)},
		{"clash_adapter_errors_total", "counter", "Agent turns that failed", count(&m.AdapterErrors)},
		{"clash_last_turn_duration_ms", "gauge", "Duration of the last recorded turn", count(&m.LastTurnMs)},
		{"clash_last_prepare_duration_ms", "gauge", "Duration of the last agent preparation", count(&m.LastPrepareMs)},
	}
}

// Handler serves the counters.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		for _, s := range m.series() {
			fmt.Fprintf(w, "# HELP %s %s\n", s.name, s.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", s.name, s.kind)
			fmt.Fprintf(w, "%s %s\n\n", s.name, s.value())
		}
	}
}
