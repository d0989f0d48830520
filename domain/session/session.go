// Package session implements the Session aggregate and its state machine
// (spec.md §3, §4.3): a strict, data-driven lifecycle with pessimistic
// per-aggregate locking and an append-only audit trail.
package session

import (
	"context"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/domain/eventlog"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/domain/statemachine"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// State is a session lifecycle stage.
type State string

const (
	StateCreated             State = "CREATED"
	StatePreparing           State = "PREPARING"
	StateArgumentPetitioner  State = "ARGUMENT_PETITIONER"
	StateArgumentRespondent  State = "ARGUMENT_RESPONDENT"
	StateRebuttal            State = "REBUTTAL"
	StateSurRebuttal         State = "SUR_REBUTTAL"
	StateJudging             State = "JUDGING"
	StateCompleted           State = "COMPLETED"
	StateCancelled           State = "CANCELLED"
	StatePaused              State = "PAUSED"
)

// Table is the canonical session transition table from spec.md §4.3.
var Table = statemachine.NewTable([]statemachine.Transition{
	{From: string(StateCreated), To: string(StatePreparing), TriggerType: "faculty", RequiresFaculty: true},
	{From: string(StatePreparing), To: string(StateArgumentPetitioner), TriggerType: "faculty", RequiresFaculty: true},
	{From: string(StateArgumentPetitioner), To: string(StateArgumentRespondent), TriggerType: "round_completed"},
	{From: string(StateArgumentRespondent), To: string(StateRebuttal), TriggerType: "round_completed"},
	{From: string(StateRebuttal), To: string(StateJudging), TriggerType: "faculty", RequiresFaculty: true},
	{From: string(StateJudging), To: string(StateCompleted), TriggerType: "faculty", RequiresFaculty: true, RequiresAllRoundsComplete: true},
	{From: "*", To: string(StateCancelled), TriggerType: "faculty", RequiresFaculty: true},
}, []string{string(StateCompleted), string(StateCancelled)})

// Session is the top-level aggregate (spec.md §3).
type Session struct {
	ID                    string
	InstitutionID         string
	FacultyID             string
	SessionCode           string
	State                 State
	PreviousState         *State // set while PAUSED, for resume
	PhaseStartTimestamp   *int64 // unix seconds
	PhaseDurationSeconds  *int64
	PauseAccumulatedSecs  int64
	Version               int64
	CreatedAt             int64
	UpdatedAt             int64
	CompletedAt           *int64
	CancelledAt           *int64
}

// RoundsCompleteChecker reports whether every round in a session has
// reached a terminal state, used to gate RequiresAllRoundsComplete.
type RoundsCompleteChecker interface {
	AllRoundsComplete(ctx context.Context, sessionID string) (bool, error)
}

// Store is the persistence contract for sessions.
type Store interface {
	// WithLock locks the session row exclusively and runs fn on it for the
	// duration of the caller's transaction.
	WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context, s Session) (Session, error)) (Session, error)
}

// Engine drives session transitions.
type Engine struct {
	store   Store
	rounds  RoundsCompleteChecker
	events  eventlog.Store
	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(store Store, rounds RoundsCompleteChecker, events eventlog.Store, clk clock.Clock, m *metrics.Metrics) *Engine {
	return &Engine{store: store, rounds: rounds, events: events, clock: clk, metrics: m}
}

// Transition implements transition(aggregate_id, target_state, actor,
// is_faculty, reason) from spec.md §4.3.
func (e *Engine) Transition(ctx context.Context, actor identity.Actor, sessionID string, target State, expectedVersion int64, forced bool, reason string) (Session, error) {
	var fromState State
	isNoop := false

	result, err := e.store.WithLock(ctx, sessionID, func(ctx context.Context, s Session) (Session, error) {
		fromState = s.State

		if err := identity.RequireSameInstitution(actor, s.InstitutionID); err != nil {
			return s, err
		}
		if s.Version != expectedVersion {
			return s, errs.ConcurrentModification(expectedVersion, s.Version)
		}

		if s.State == target {
			isNoop = true
			return s, nil // idempotent no-op; audited as such by caller
		}

		if !forced {
			tr, ok := Table.Lookup(string(s.State), string(target))
			if !ok {
				return s, errs.InvalidTransition(string(s.State), string(target), Table.AllowedNext(string(s.State)))
			}
			if tr.RequiresFaculty && !actor.Role.IsFaculty() {
				return s, errs.Forbidden("transition requires faculty authority")
			}
			if tr.RequiresAllRoundsComplete {
				complete, err := e.rounds.AllRoundsComplete(ctx, sessionID)
				if err != nil {
					return s, err
				}
				if !complete {
					return s, errs.PreconditionFailed("all rounds must be completed or cancelled first")
				}
			}
		} else if !actor.Role.IsFaculty() {
			return s, errs.Forbidden("forced transition requires faculty authority")
		}

		now := e.clock.Now().Unix()
		s.State = target
		s.Version++
		s.UpdatedAt = now
		if Table.IsTerminal(string(target)) {
			if target == StateCompleted {
				s.CompletedAt = &now
			} else if target == StateCancelled {
				s.CancelledAt = &now
			}
		}
		return s, nil
	})

	e.recordAndAudit(ctx, sessionID, actor.UserID, fromState, target, forced, isNoop, err)
	return result, err
}

// Pause freezes a session's timer fields and records previous_state so
// resume can derive remaining time (spec.md §4.3).
func (e *Engine) Pause(ctx context.Context, actor identity.Actor, sessionID string, expectedVersion int64) (Session, error) {
	var fromState State
	result, err := e.store.WithLock(ctx, sessionID, func(ctx context.Context, s Session) (Session, error) {
		fromState = s.State
		if err := identity.RequireFaculty(actor); err != nil {
			return s, err
		}
		if s.Version != expectedVersion {
			return s, errs.ConcurrentModification(expectedVersion, s.Version)
		}
		if Table.IsTerminal(string(s.State)) || s.State == StatePaused {
			return s, errs.InvalidTransition(string(s.State), string(StatePaused), Table.AllowedNext(string(s.State)))
		}
		prev := s.State
		s.PreviousState = &prev
		s.State = StatePaused
		s.Version++
		s.UpdatedAt = e.clock.Now().Unix()
		return s, nil
	})
	e.recordAndAudit(ctx, sessionID, actor.UserID, fromState, StatePaused, false, false, err)
	return result, err
}

// Resume restores a paused session to its previous_state. The caller is
// responsible for having updated PauseAccumulatedSecs before calling;
// RemainingSeconds derives the authoritative remaining time from it.
func (e *Engine) Resume(ctx context.Context, actor identity.Actor, sessionID string, expectedVersion int64) (Session, error) {
	var fromState, toState State
	result, err := e.store.WithLock(ctx, sessionID, func(ctx context.Context, s Session) (Session, error) {
		fromState = s.State
		if err := identity.RequireFaculty(actor); err != nil {
			return s, err
		}
		if s.Version != expectedVersion {
			return s, errs.ConcurrentModification(expectedVersion, s.Version)
		}
		if s.State != StatePaused || s.PreviousState == nil {
			return s, errs.InvalidTransition(string(s.State), "resume", nil)
		}
		target := *s.PreviousState
		toState = target
		s.State = target
		s.PreviousState = nil
		s.Version++
		s.UpdatedAt = e.clock.Now().Unix()
		return s, nil
	})
	e.recordAndAudit(ctx, sessionID, actor.UserID, fromState, toState, false, false, err)
	return result, err
}

// RemainingSeconds computes the authoritative remaining phase time per
// spec.md §4.3's formula: phase_duration_seconds − (now − phase_start −
// pause_accumulated_seconds). Returns 0 when timer fields are unset or
// time has elapsed.
func RemainingSeconds(s Session, now int64) int64 {
	if s.PhaseStartTimestamp == nil || s.PhaseDurationSeconds == nil {
		return 0
	}
	elapsed := now - *s.PhaseStartTimestamp - s.PauseAccumulatedSecs
	remaining := *s.PhaseDurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (e *Engine) recordAndAudit(ctx context.Context, sessionID, actorUserID string, fromState, toState State, forced, isNoop bool, opErr error) {
	actor := actorUserID
	from := string(fromState)
	to := string(toState)

	if opErr != nil {
		msg := opErr.Error()
		_, _ = e.events.Append(ctx, audit.NewFailure("session", sessionID, "TRANSITION", &actor, &from, &to, msg), nil)
		if e.metrics != nil {
			e.metrics.RecordTransition("session", from, to, "rejected")
		}
		return
	}

	action := "TRANSITION"
	if isNoop {
		action = "TRANSITION_NOOP"
	}
	payload := map[string]interface{}{"forced": forced}
	_, _ = e.events.Append(ctx, audit.NewSuccess("session", sessionID, action, &actor, &from, &to, payload), nil)
	if e.metrics != nil {
		e.metrics.RecordTransition("session", from, to, "accepted")
	}
}
