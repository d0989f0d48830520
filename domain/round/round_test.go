package round

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

func newTestEngine() (*Engine, *MemoryStore) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	return NewEngine(store, noopSessionTransitioner{}, events, clk, nil), store
}

func facultyActor() identity.Actor {
	return identity.Actor{UserID: "f1", Role: identity.RoleFaculty, InstitutionID: "inst-1"}
}

func TestRoundTransitionHappyPath(t *testing.T) {
	e, store := newTestEngine()
	store.PutRound(Round{ID: "r1", InstitutionID: "inst-1", State: StateWaiting, Version: 0})

	updated, err := e.Transition(context.Background(), facultyActor(), "r1", StateArgumentPetitioner, 0, true)
	require.NoError(t, err)
	assert.Equal(t, StateArgumentPetitioner, updated.State)
	assert.Equal(t, int64(1), updated.Version)
}

func TestRoundTransitionRejectsInvalid(t *testing.T) {
	e, store := newTestEngine()
	store.PutRound(Round{ID: "r1", InstitutionID: "inst-1", State: StateWaiting, Version: 0})

	_, err := e.Transition(context.Background(), facultyActor(), "r1", StateScoring, 0, false)
	assert.True(t, errs.Is(err, errs.CodeInvalidTransition))
}

func TestRoundPauseRecordsPreviousState(t *testing.T) {
	e, store := newTestEngine()
	store.PutRound(Round{ID: "r1", InstitutionID: "inst-1", State: StateRebuttal, Version: 4})

	paused, err := e.Pause(context.Background(), facultyActor(), "r1", 4)
	require.NoError(t, err)
	require.NotNil(t, paused.PreviousState)
	assert.Equal(t, StateRebuttal, *paused.PreviousState)

	resumed, err := e.Resume(context.Background(), facultyActor(), "r1", paused.Version)
	require.NoError(t, err)
	assert.Equal(t, StateRebuttal, resumed.State)
}
