// Package assignment implements the Assignment Engine (spec.md §4.2): a
// deterministic, race-safe, idempotent mapping from a joining student to a
// session slot.
package assignment

import (
	"context"
	"sync"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/domain/eventlog"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/idgen"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// Side is a participant's side in a round.
type Side string

const (
	SidePetitioner Side = "PETITIONER"
	SideRespondent Side = "RESPONDENT"
)

// slotTable is the pure function of join position (1..4) to (side, speaker)
// from spec.md §4.2. Position 0 is unused (positions are 1-indexed).
var slotTable = [...]struct {
	side    Side
	speaker int
}{
	{}, // index 0 unused
	{SidePetitioner, 1},
	{SideRespondent, 1},
	{SidePetitioner, 2},
	{SideRespondent, 2},
}

const maxParticipants = 4

// Participant is a user's membership in a session.
type Participant struct {
	ID            string
	SessionID     string
	UserID        string
	Side          *Side
	SpeakerNumber *int
	JoinTimestamp int64
	IsActive      bool
	IsNew         bool // true only on the call that created the row
}

// SessionLookup is the subset of the session aggregate the Assignment
// Engine needs: its current state, used to enforce SESSION_NOT_JOINABLE.
type SessionLookup interface {
	// SessionJoinableState returns the session's institution id and
	// current state string for sessionID.
	SessionJoinableState(ctx context.Context, sessionID string) (institutionID string, state string, err error)
}

// Store is the persistence contract for participants. Implementations
// must serialize joins for one session (row lock or mutex) while letting
// different sessions proceed in parallel.
type Store interface {
	// WithSessionLock runs fn while holding an exclusive, session-scoped
	// lock, serializing concurrent joins for sessionID.
	WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error

	// FindActiveParticipant returns the existing active participant for
	// (sessionID, userID), if any.
	FindActiveParticipant(ctx context.Context, sessionID, userID string) (*Participant, bool, error)

	// CountActiveParticipants returns the number of active, non-observer
	// participants in sessionID.
	CountActiveParticipants(ctx context.Context, sessionID string) (int, error)

	// InsertParticipant inserts p, returning errs.CodeRaceCondition if a
	// concurrent insert already claimed the same (side, speaker_number).
	InsertParticipant(ctx context.Context, p Participant) error
}

// Engine implements the Assignment Engine.
type Engine struct {
	store     Store
	sessions  SessionLookup
	events    eventlog.Store
	clock     clock.Clock
	metrics   *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(store Store, sessions SessionLookup, events eventlog.Store, clk clock.Clock, m *metrics.Metrics) *Engine {
	return &Engine{store: store, sessions: sessions, events: events, clock: clk, metrics: m}
}

// Assign implements the assign(session_id, user_id, is_student) operation.
func (e *Engine) Assign(ctx context.Context, actor identity.Actor, sessionID string) (Participant, error) {
	if err := identity.RequireStudent(actor); err != nil {
		e.audit(ctx, sessionID, actor.UserID, false, err.Error())
		return Participant{}, err
	}

	var result Participant
	var opErr error

	lockErr := e.store.WithSessionLock(ctx, sessionID, func(ctx context.Context) error {
		institutionID, state, err := e.sessions.SessionJoinableState(ctx, sessionID)
		if err != nil {
			opErr = err
			return err
		}
		if err := identity.RequireSameInstitution(actor, institutionID); err != nil {
			opErr = err
			return err
		}
		if state != "PREPARING" {
			opErr = errs.SessionNotJoinable(state)
			return opErr
		}

		if existing, found, err := e.store.FindActiveParticipant(ctx, sessionID, actor.UserID); err != nil {
			opErr = err
			return err
		} else if found {
			existing.IsNew = false
			result = *existing
			return nil
		}

		count, err := e.store.CountActiveParticipants(ctx, sessionID)
		if err != nil {
			opErr = err
			return err
		}
		if count >= maxParticipants {
			opErr = errs.SessionFull()
			return opErr
		}

		position := count + 1
		slot := slotTable[position]
		side := slot.side
		speaker := slot.speaker

		p := Participant{
			ID:            idgen.NewID(),
			SessionID:     sessionID,
			UserID:        actor.UserID,
			Side:          &side,
			SpeakerNumber: &speaker,
			JoinTimestamp: e.clock.Now().Unix(),
			IsActive:      true,
			IsNew:         true,
		}
		if err := e.store.InsertParticipant(ctx, p); err != nil {
			opErr = err
			return err
		}
		result = p
		return nil
	})

	if lockErr != nil {
		if opErr == nil {
			opErr = lockErr
		}
		e.audit(ctx, sessionID, actor.UserID, false, opErr.Error())
		return Participant{}, opErr
	}

	e.auditSuccess(ctx, sessionID, actor.UserID, result)
	return result, nil
}

func (e *Engine) audit(ctx context.Context, sessionID, actorUserID string, _ bool, message string) {
	actor := actorUserID
	_, _ = e.events.Append(ctx, audit.NewFailure("session", sessionID, "PARTICIPANT_JOIN", &actor, nil, nil, message), nil)
}

func (e *Engine) auditSuccess(ctx context.Context, sessionID, actorUserID string, p Participant) {
	actor := actorUserID
	payload := map[string]interface{}{
		"participant_id": p.ID,
		"is_new":         p.IsNew,
	}
	if p.Side != nil {
		payload["side"] = string(*p.Side)
	}
	if p.SpeakerNumber != nil {
		payload["speaker_number"] = *p.SpeakerNumber
	}
	_, _ = e.events.Append(ctx, audit.NewSuccess("session", sessionID, "PARTICIPANT_JOIN", &actor, nil, nil, payload), nil)
}

// inMemoryLocks is a small helper in-process lock map other domain
// packages reuse for single-node Store implementations; the per-aggregate
// mutex is the single-node optimization spec.md §5/§9 describes — a
// horizontally scaled deployment must rely on Postgres row locks instead.
type inMemoryLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newInMemoryLocks() *inMemoryLocks {
	return &inMemoryLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *inMemoryLocks) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// WithLock runs fn while holding the per-key mutex.
func (l *inMemoryLocks) WithLock(key string, fn func() error) error {
	m := l.lockFor(key)
	m.Lock()
	defer m.Unlock()
	return fn()
}
