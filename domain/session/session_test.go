package session

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/moot-session-engine/domain/eventlog"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allRoundsComplete bool

func (a allRoundsComplete) AllRoundsComplete(context.Context, string) (bool, error) {
	return bool(a), nil
}

func newTestEngine(rounds RoundsCompleteChecker) (*Engine, *MemoryStore, *eventlog.MemoryStore) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	events := eventlog.NewMemoryStore(clk, nil)
	return NewEngine(store, rounds, events, clk, nil), store, events
}

func facultyActor() identity.Actor {
	return identity.Actor{UserID: "f1", Role: identity.RoleFaculty, InstitutionID: "inst-1"}
}

func TestTransitionHappyPath(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateCreated, Version: 0})

	updated, err := e.Transition(context.Background(), facultyActor(), "s1", StatePreparing, 0, false, "")
	require.NoError(t, err)
	assert.Equal(t, StatePreparing, updated.State)
	assert.Equal(t, int64(1), updated.Version)
}

func TestTransitionRejectsInvalidTarget(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateCreated, Version: 0})

	_, err := e.Transition(context.Background(), facultyActor(), "s1", StateJudging, 0, false, "")
	require.Error(t, err)
	e2, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodeInvalidTransition, e2.Code)
	assert.ElementsMatch(t, []string{"PREPARING", "CANCELLED"}, e2.Details["allowed_next"])
}

func TestTransitionRejectsStaleVersion(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateCreated, Version: 0})

	_, err := e.Transition(context.Background(), facultyActor(), "s1", StatePreparing, 5, false, "")
	assert.True(t, errs.Is(err, errs.CodeConcurrentModification))
}

func TestTransitionIsIdempotentWhenAlreadyAtTarget(t *testing.T) {
	e, store, events := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StatePreparing, Version: 3})

	updated, err := e.Transition(context.Background(), facultyActor(), "s1", StatePreparing, 3, false, "")
	require.NoError(t, err)
	assert.Equal(t, StatePreparing, updated.State)
	assert.Equal(t, int64(3), updated.Version, "no-op transition must not bump version")

	all, _ := events.Replay(context.Background(), "s1", 1)
	require.Len(t, all, 1)
	assert.Equal(t, "TRANSITION_NOOP", all[0].Action)
}

func TestTransitionToCompletedRequiresAllRoundsComplete(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(false))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateJudging, Version: 0})

	_, err := e.Transition(context.Background(), facultyActor(), "s1", StateCompleted, 0, false, "")
	assert.True(t, errs.Is(err, errs.CodePreconditionFailed))
}

func TestTransitionRejectsNonFacultyWhenRequired(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateCreated, Version: 0})

	student := identity.Actor{UserID: "u1", Role: identity.RoleStudent, InstitutionID: "inst-1"}
	_, err := e.Transition(context.Background(), student, "s1", StatePreparing, 0, false, "")
	assert.True(t, errs.Is(err, errs.CodeForbidden))
}

func TestPauseAndResumeRoundTrip(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateArgumentPetitioner, Version: 2})

	paused, err := e.Pause(context.Background(), facultyActor(), "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, StatePaused, paused.State)
	require.NotNil(t, paused.PreviousState)
	assert.Equal(t, StateArgumentPetitioner, *paused.PreviousState)

	resumed, err := e.Resume(context.Background(), facultyActor(), "s1", paused.Version)
	require.NoError(t, err)
	assert.Equal(t, StateArgumentPetitioner, resumed.State)
	assert.Nil(t, resumed.PreviousState)
}

func TestRemainingSecondsDerivesFromPauseAccumulated(t *testing.T) {
	start := int64(1000)
	duration := int64(300)
	s := Session{PhaseStartTimestamp: &start, PhaseDurationSeconds: &duration, PauseAccumulatedSecs: 50}

	assert.Equal(t, int64(250), RemainingSeconds(s, 1100))
	assert.Equal(t, int64(0), RemainingSeconds(s, 1400))
}

func TestCrossInstitutionTransitionFailsClosed(t *testing.T) {
	e, store, _ := newTestEngine(allRoundsComplete(true))
	store.Put(Session{ID: "s1", InstitutionID: "inst-1", State: StateCreated, Version: 0})

	actor := identity.Actor{UserID: "f2", Role: identity.RoleFaculty, InstitutionID: "inst-2"}
	_, err := e.Transition(context.Background(), actor, "s1", StatePreparing, 0, false, "")
	assert.True(t, errs.Is(err, errs.CodeForbidden))
}
