package round

import (
	"context"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
)

// Turn is an individual speaking slot within a round (spec.md §3).
type Turn struct {
	ID              string
	RoundID         string
	ParticipantID   string
	TurnOrder       int
	AllowedSeconds  int64
	StartedAt       *int64
	SubmittedAt     *int64
	Transcript      string
	IsSubmitted     bool
	AutoSubmitted   bool
}

// TurnStore is the persistence contract for turns within a round,
// serialized by the same per-round lock the round Store uses.
type TurnStore interface {
	// WithRoundLock runs fn while holding the round's exclusive lock,
	// loading the full ordered turn list for roundID.
	WithRoundLock(ctx context.Context, roundID string, fn func(ctx context.Context, turns []Turn) ([]Turn, error)) ([]Turn, error)
}

// TurnEngine implements start_turn, submit_turn, and force_submit from
// spec.md §4.4. The timer read is the pure function ComputeTimer; no
// TurnEngine method reads the timer or force-submits on read.
type TurnEngine struct {
	turns  TurnStore
	rounds *Engine
}

// NewTurnEngine constructs a TurnEngine. rounds is used to enqueue the
// round-phase auto-advance transition once the final turn of a phase
// submits.
func NewTurnEngine(turns TurnStore, rounds *Engine) *TurnEngine {
	return &TurnEngine{turns: turns, rounds: rounds}
}

func findTurn(turns []Turn, turnID string) (int, bool) {
	for i, t := range turns {
		if t.ID == turnID {
			return i, true
		}
	}
	return -1, false
}

// nextTurnIndex returns the index of the next not-yet-submitted turn in
// ascending turn_order, or -1 if all are submitted.
func nextTurnIndex(turns []Turn) int {
	best := -1
	for i, t := range turns {
		if t.IsSubmitted {
			continue
		}
		if best == -1 || turns[i].TurnOrder < turns[best].TurnOrder {
			best = i
		}
	}
	return best
}

// StartTurn implements start_turn(round_id, turn_id, actor).
func (e *TurnEngine) StartTurn(ctx context.Context, actorUserID, roundID, turnID string, now int64) (Turn, error) {
	var result Turn
	var opErr error

	_, err := e.turns.WithRoundLock(ctx, roundID, func(ctx context.Context, turns []Turn) ([]Turn, error) {
		idx, ok := findTurn(turns, turnID)
		if !ok {
			opErr = errs.NotFound("turn", turnID)
			return turns, opErr
		}
		if turns[idx].IsSubmitted {
			opErr = errs.TurnAlreadySubmitted()
			return turns, opErr
		}

		next := nextTurnIndex(turns)
		if next != idx {
			opErr = errs.NotCurrentSpeaker()
			return turns, opErr
		}

		turns[idx].StartedAt = &now
		result = turns[idx]
		return turns, nil
	})

	actor := actorUserID
	if err != nil {
		msg := err.Error()
		e.auditTurn(ctx, roundID, turnID, &actor, "TURN_START_REJECTED", false, &msg)
		return Turn{}, err
	}
	e.auditTurn(ctx, roundID, turnID, &actor, "TURN_STARTED", true, nil)
	return result, nil
}

// SubmitTurn implements submit_turn(round_id, turn_id, actor, transcript).
func (e *TurnEngine) SubmitTurn(ctx context.Context, actorUserID, roundID, turnID, transcript string, now int64) (Turn, error) {
	return e.submit(ctx, actorUserID, roundID, turnID, transcript, now, false)
}

// ForceSubmit implements force_submit(round_id, turn_id, actor=system),
// called by any reader path that observes an expired timer (spec.md §4.4).
func (e *TurnEngine) ForceSubmit(ctx context.Context, roundID, turnID string, now int64) (Turn, error) {
	return e.submit(ctx, "system", roundID, turnID, "", now, true)
}

func (e *TurnEngine) submit(ctx context.Context, actorUserID, roundID, turnID, transcript string, now int64, auto bool) (Turn, error) {
	var result Turn
	var isLastTurn bool
	var roundState State

	_, err := e.turns.WithRoundLock(ctx, roundID, func(ctx context.Context, turns []Turn) ([]Turn, error) {
		idx, ok := findTurn(turns, turnID)
		if !ok {
			return turns, errs.NotFound("turn", turnID)
		}
		if turns[idx].IsSubmitted {
			return turns, errs.TurnAlreadySubmitted()
		}
		if turns[idx].StartedAt == nil {
			return turns, errs.TurnNotStarted()
		}

		submittedAt := now
		turns[idx].SubmittedAt = &submittedAt
		turns[idx].Transcript = transcript
		turns[idx].IsSubmitted = true
		turns[idx].AutoSubmitted = auto
		result = turns[idx]

		isLastTurn = nextTurnIndex(turns) == -1
		return turns, nil
	})

	action := "TURN_SUBMITTED"
	if auto {
		action = "AUTO_SUBMIT"
	}
	actor := actorUserID
	if err != nil {
		msg := err.Error()
		rejectedAction := action + "_REJECTED"
		e.auditTurn(ctx, roundID, turnID, &actor, rejectedAction, false, &msg)
		return Turn{}, err
	}
	e.auditTurn(ctx, roundID, turnID, &actor, action, true, nil)

	if isLastTurn && e.rounds != nil {
		roundResult, rErr := e.rounds.store.WithLock(ctx, roundID, func(ctx context.Context, r Round) (Round, error) {
			roundState = r.State
			return r, nil
		})
		if rErr == nil {
			if target, ok := nextArgumentPhase(roundState); ok {
				systemActor := identity.SystemActor(roundResult.InstitutionID)
				_, _ = e.rounds.Transition(ctx, systemActor, roundID, target, roundResult.Version, false)
			}
		}
	}

	return result, nil
}

// TimerView is the result of ComputeTimer: {phase, started_at,
// remaining_seconds, expired}, derived from the wall clock, never from
// client-supplied time.
type TimerView struct {
	Phase            State
	StartedAt        *int64
	RemainingSeconds int64
	Expired          bool
}

// ComputeTimer derives the authoritative remaining time for the current
// turn of roundState started at startedAt, given allowedSeconds and the
// current wall clock now. It only reports Expired; it does not submit
// anything, and SubmitTurn does not check expiry, so an expired turn stays
// open until a caller or the Supervisor issues ForceSubmit.
func ComputeTimer(phase State, startedAt *int64, allowedSeconds, now int64) TimerView {
	if startedAt == nil {
		return TimerView{Phase: phase, RemainingSeconds: allowedSeconds}
	}
	elapsed := now - *startedAt
	remaining := allowedSeconds - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return TimerView{Phase: phase, StartedAt: startedAt, RemainingSeconds: remaining, Expired: remaining <= 0}
}

func (e *TurnEngine) auditTurn(ctx context.Context, roundID, turnID string, actorUserID *string, action string, success bool, errMessage *string) {
	payload := map[string]interface{}{"turn_id": turnID}
	var evt audit.Event
	if success {
		evt = audit.NewSuccess("round", roundID, action, actorUserID, nil, nil, payload)
	} else {
		msg := ""
		if errMessage != nil {
			msg = *errMessage
		}
		evt = audit.NewFailure("round", roundID, action, actorUserID, nil, nil, msg)
	}
	_, _ = e.rounds.events.Append(ctx, evt, nil)
}
