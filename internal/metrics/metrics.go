// Package metrics provides Prometheus metrics collection for the engine's
// state machines, timer engine, and leaderboard freeze lifecycle.
package metrics

import (
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the engine.
type Metrics struct {
	// TransitionsTotal counts session/round state machine transitions,
	// labeled by aggregate type, origin state, destination state, and
	// whether the transition was accepted or rejected (spec.md §4.3).
	TransitionsTotal *prometheus.CounterVec

	// AssignmentDuration observes how long deterministic slot assignment
	// (spec.md §4.2) takes per session.
	AssignmentDuration *prometheus.HistogramVec

	// TurnSubmissionsTotal counts turn submissions by result: "speaker",
	// "force_submit_expired", or "rejected" (spec.md §4.4).
	TurnSubmissionsTotal *prometheus.CounterVec

	// TimerExpiryTotal counts force-submit-on-expiry events detected by
	// any reader path (spec.md §4.4), labeled by detector: "read_path" or
	// "supervisor".
	TimerExpiryTotal *prometheus.CounterVec

	// EvaluationsSubmittedTotal counts blind evaluations recorded, labeled
	// by result (spec.md §4.5).
	EvaluationsSubmittedTotal *prometheus.CounterVec

	// ConcurrentModificationRetriesTotal counts optimistic-version retry
	// attempts (spec.md §7), labeled by aggregate type and outcome.
	ConcurrentModificationRetriesTotal *prometheus.CounterVec

	// LeaderboardFreezesTotal counts leaderboard governance transitions,
	// labeled by destination state (spec.md §4.6).
	LeaderboardFreezesTotal *prometheus.CounterVec

	// LeaderboardChecksumMismatchTotal counts checksum verification
	// failures detected on any verified snapshot, whatever its governance
	// state.
	LeaderboardChecksumMismatchTotal prometheus.Counter

	// EventLogAppendsTotal counts Event Log appends, labeled by
	// aggregate type (spec.md §4.1).
	EventLogAppendsTotal *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default registerer.
func New(component string) *Metrics {
	return NewWithRegistry(component, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer.
// Passing a nil registerer skips registration, useful in tests that create
// multiple Metrics instances in the same process.
func NewWithRegistry(component string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_state_transitions_total",
				Help: "Total number of session/round state machine transitions attempted",
			},
			[]string{"aggregate_type", "from_state", "to_state", "result"},
		),
		AssignmentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "engine_assignment_duration_seconds",
				Help:    "Duration of deterministic slot assignment per session",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"result"},
		),
		TurnSubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_turn_submissions_total",
				Help: "Total number of turn submissions",
			},
			[]string{"result"},
		),
		TimerExpiryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_timer_expiry_total",
				Help: "Total number of force-submit-on-expiry events, by detector",
			},
			[]string{"detector"},
		),
		EvaluationsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_evaluations_submitted_total",
				Help: "Total number of blind evaluations recorded",
			},
			[]string{"result"},
		),
		ConcurrentModificationRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_concurrent_modification_retries_total",
				Help: "Total number of optimistic-version retry attempts",
			},
			[]string{"aggregate_type", "outcome"},
		),
		LeaderboardFreezesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_leaderboard_governance_transitions_total",
				Help: "Total number of leaderboard snapshot governance transitions",
			},
			[]string{"to_state"},
		),
		LeaderboardChecksumMismatchTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "engine_leaderboard_checksum_mismatch_total",
				Help: "Total number of leaderboard checksum verification failures",
			},
		),
		EventLogAppendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "engine_event_log_appends_total",
				Help: "Total number of Event Log entries appended",
			},
			[]string{"aggregate_type"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.TransitionsTotal,
			m.AssignmentDuration,
			m.TurnSubmissionsTotal,
			m.TimerExpiryTotal,
			m.EvaluationsSubmittedTotal,
			m.ConcurrentModificationRetriesTotal,
			m.LeaderboardFreezesTotal,
			m.LeaderboardChecksumMismatchTotal,
			m.EventLogAppendsTotal,
		)
	}

	return m
}

// RecordTransition records a state machine transition attempt.
func (m *Metrics) RecordTransition(aggregateType, from, to, result string) {
	m.TransitionsTotal.WithLabelValues(aggregateType, from, to, result).Inc()
}

// RecordTurnSubmission records a turn submission outcome.
func (m *Metrics) RecordTurnSubmission(result string) {
	m.TurnSubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordTimerExpiry records a force-submit-on-expiry event.
func (m *Metrics) RecordTimerExpiry(detector string) {
	m.TimerExpiryTotal.WithLabelValues(detector).Inc()
}

// RecordConcurrentModificationRetry records an optimistic-version retry.
func (m *Metrics) RecordConcurrentModificationRetry(aggregateType, outcome string) {
	m.ConcurrentModificationRetriesTotal.WithLabelValues(aggregateType, outcome).Inc()
}

// RecordLeaderboardTransition records a governance lifecycle transition.
func (m *Metrics) RecordLeaderboardTransition(toState string) {
	m.LeaderboardFreezesTotal.WithLabelValues(toState).Inc()
}

// RecordChecksumMismatch records a leaderboard checksum verification
// failure (spec.md §9's fatal-condition check).
func (m *Metrics) RecordChecksumMismatch() {
	m.LeaderboardChecksumMismatchTotal.Inc()
}

// RecordEventLogAppend records an Event Log append.
func (m *Metrics) RecordEventLogAppend(aggregateType string) {
	m.EventLogAppendsTotal.WithLabelValues(aggregateType).Inc()
}

// Enabled reports whether metrics collection should be active, following
// the same env-first convention as the rest of the ambient stack.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
