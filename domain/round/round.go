// Package round implements the Round aggregate, its state machine, and the
// Turn Engine (spec.md §3, §4.3 round half, §4.4): deterministic speaking
// order and server-authoritative timing within a session.
package round

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

// State is a round lifecycle stage.
type State string

const (
	StateWaiting             State = "WAITING"
	StateArgumentPetitioner  State = "ARGUMENT_PETITIONER"
	StateArgumentRespondent  State = "ARGUMENT_RESPONDENT"
	StateRebuttal            State = "REBUTTAL"
	StateSurRebuttal         State = "SUR_REBUTTAL"
	StateJudgeQuestions      State = "JUDGE_QUESTIONS"
	StateScoring             State = "SCORING"
	StateCompleted           State = "COMPLETED"
	StatePaused              State = "PAUSED"
	StateCancelled           State = "CANCELLED"
)

// Table is the canonical round transition table from spec.md §4.3.
var Table = statemachine.NewTable([]statemachine.Transition{
	{From: string(StateWaiting), To: string(StateArgumentPetitioner), TriggerType: "turn_complete"},
	{From: string(StateArgumentPetitioner), To: string(StateArgumentRespondent), TriggerType: "turn_complete"},
	{From: string(StateArgumentRespondent), To: string(StateRebuttal), TriggerType: "turn_complete"},
	{From: string(StateRebuttal), To: string(StateSurRebuttal), TriggerType: "turn_complete"},
	{From: string(StateRebuttal), To: string(StateJudgeQuestions), TriggerType: "turn_complete"},
	{From: string(StateSurRebuttal), To: string(StateJudgeQuestions), TriggerType: "turn_complete"},
	{From: string(StateJudgeQuestions), To: string(StateScoring), TriggerType: "faculty"},
	{From: string(StateScoring), To: string(StateCompleted), TriggerType: "faculty"},
	{From: "*", To: string(StatePaused), TriggerType: "faculty", RequiresFaculty: true},
	{From: "*", To: string(StateCancelled), TriggerType: "faculty", RequiresFaculty: true},
}, []string{string(StateCompleted), string(StateCancelled)})

// Round is a single bout within a session (spec.md §3).
type Round struct {
	ID                  string
	SessionID           string
	InstitutionID       string
	RoundNumber         int
	PetitionerID        string
	RespondentID        string
	JudgeID             string
	State               State
	PreviousState       *State
	TimeLimitSeconds    int64
	PhaseStartTimestamp *int64
	Version             int64
}

// Store is the persistence contract for rounds.
type Store interface {
	WithLock(ctx context.Context, roundID string, fn func(ctx context.Context, r Round) (Round, error)) (Round, error)
}

// SessionTransitioner is the subset of the session Engine the round
// package needs to request an auto-advance session transition when the
// final turn of a round's phase is submitted (spec.md §4.4).
type SessionTransitioner interface {
	// RequestRoundCompleted is called when a round reaches COMPLETED;
	// implementations translate it into a candidate session transition,
	// still subject to the session state machine's own preconditions.
	RequestRoundCompleted(ctx context.Context, sessionID, roundID string) error
}

// Engine drives round transitions. Turn operations live in turn.go but
// share this Engine so auto-advance can call into Transition directly.
type Engine struct {
	store    Store
	sessions SessionTransitioner
	events   eventlog.Store
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(store Store, sessions SessionTransitioner, events eventlog.Store, clk clock.Clock, m *metrics.Metrics) *Engine {
	return &Engine{store: store, sessions: sessions, events: events, clock: clk, metrics: m}
}

// Transition implements the round half of spec.md §4.3's
// transition(aggregate_id, target_state, actor, is_faculty, reason).
func (e *Engine) Transition(ctx context.Context, actor identity.Actor, roundID string, target State, expectedVersion int64, forced bool) (Round, error) {
	var fromState State
	isNoop := false

	result, err := e.store.WithLock(ctx, roundID, func(ctx context.Context, r Round) (Round, error) {
		fromState = r.State
		if err := identity.RequireSameInstitution(actor, r.InstitutionID); err != nil {
			return r, err
		}
		if r.Version != expectedVersion {
			return r, errs.ConcurrentModification(expectedVersion, r.Version)
		}
		if r.State == target {
			isNoop = true
			return r, nil
		}

		if !forced {
			tr, ok := Table.Lookup(string(r.State), string(target))
			if !ok {
				return r, errs.InvalidTransition(string(r.State), string(target), Table.AllowedNext(string(r.State)))
			}
			if tr.RequiresFaculty && !actor.Role.IsFaculty() {
				return r, errs.Forbidden("transition requires faculty authority")
			}
		} else if !actor.Role.IsFaculty() {
			return r, errs.Forbidden("forced transition requires faculty authority")
		}

		r.State = target
		r.Version++
		return r, nil
	})

	e.audit(ctx, roundID, actor.UserID, fromState, target, forced, isNoop, err)

	if err == nil && target == StateCompleted && e.sessions != nil {
		_ = e.sessions.RequestRoundCompleted(ctx, result.SessionID, roundID)
	}
	return result, err
}

// Pause mirrors session.Engine.Pause for a round (spec.md §4.3).
func (e *Engine) Pause(ctx context.Context, actor identity.Actor, roundID string, expectedVersion int64) (Round, error) {
	var fromState State
	result, err := e.store.WithLock(ctx, roundID, func(ctx context.Context, r Round) (Round, error) {
		fromState = r.State
		if err := identity.RequireFaculty(actor); err != nil {
			return r, err
		}
		if r.Version != expectedVersion {
			return r, errs.ConcurrentModification(expectedVersion, r.Version)
		}
		if Table.IsTerminal(string(r.State)) || r.State == StatePaused {
			return r, errs.InvalidTransition(string(r.State), string(StatePaused), Table.AllowedNext(string(r.State)))
		}
		prev := r.State
		r.PreviousState = &prev
		r.State = StatePaused
		r.Version++
		return r, nil
	})
	e.audit(ctx, roundID, actor.UserID, fromState, StatePaused, false, false, err)
	return result, err
}

// Resume mirrors session.Engine.Resume for a round.
func (e *Engine) Resume(ctx context.Context, actor identity.Actor, roundID string, expectedVersion int64) (Round, error) {
	var fromState, toState State
	result, err := e.store.WithLock(ctx, roundID, func(ctx context.Context, r Round) (Round, error) {
		fromState = r.State
		if err := identity.RequireFaculty(actor); err != nil {
			return r, err
		}
		if r.Version != expectedVersion {
			return r, errs.ConcurrentModification(expectedVersion, r.Version)
		}
		if r.State != StatePaused || r.PreviousState == nil {
			return r, errs.InvalidTransition(string(r.State), "resume", nil)
		}
		target := *r.PreviousState
		toState = target
		r.State = target
		r.PreviousState = nil
		r.Version++
		return r, nil
	})
	e.audit(ctx, roundID, actor.UserID, fromState, toState, false, false, err)
	return result, err
}

func (e *Engine) audit(ctx context.Context, roundID, actorUserID string, fromState, toState State, forced, isNoop bool, opErr error) {
	actor := actorUserID
	from := string(fromState)
	to := string(toState)

	if opErr != nil {
		msg := opErr.Error()
		_, _ = e.events.Append(ctx, audit.NewFailure("round", roundID, "TRANSITION", &actor, &from, &to, msg), nil)
		if e.metrics != nil {
			e.metrics.RecordTransition("round", from, to, "rejected")
		}
		return
	}
	action := "TRANSITION"
	if isNoop {
		action = "TRANSITION_NOOP"
	}
	payload := map[string]interface{}{"forced": forced}
	_, _ = e.events.Append(ctx, audit.NewSuccess("round", roundID, action, &actor, &from, &to, payload), nil)
	if e.metrics != nil {
		e.metrics.RecordTransition("round", from, to, "accepted")
	}
}

// nextArgumentPhase maps the current round state to the state reached by
// the final turn of its current phase, used by the Turn Engine's
// auto-advance in turn.go.
func nextArgumentPhase(current State) (State, bool) {
	switch current {
	case StateWaiting:
		return StateArgumentPetitioner, true
	case StateArgumentPetitioner:
		return StateArgumentRespondent, true
	case StateArgumentRespondent:
		return StateRebuttal, true
	case StateRebuttal:
		return StateJudgeQuestions, true
	case StateSurRebuttal:
		return StateJudgeQuestions, true
	default:
		return "", false
	}
}
