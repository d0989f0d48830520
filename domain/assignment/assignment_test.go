package assignment

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

type fakeSessionLookup struct {
	institutionID string
	state         string
}

func (f fakeSessionLookup) SessionJoinableState(context.Context, string) (string, string, error) {
	return f.institutionID, f.state, nil
}

func newTestEngine(state string) *Engine {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	sessions := fakeSessionLookup{institutionID: "inst-1", state: state}
	return NewEngine(NewMemoryStore(), sessions, events, clk, nil)
}

func studentActor(userID string) identity.Actor {
	return identity.Actor{UserID: userID, Role: identity.RoleStudent, InstitutionID: "inst-1"}
}

func TestAssignDeterministicSlotsForFourJoins(t *testing.T) {
	e := newTestEngine("PREPARING")
	ctx := context.Background()

	expected := []struct {
		side    Side
		speaker int
	}{
		{SidePetitioner, 1},
		{SideRespondent, 1},
		{SidePetitioner, 2},
		{SideRespondent, 2},
	}

	for i, want := range expected {
		p, err := e.Assign(ctx, studentActor(userIDFor(i)), "session-1")
		require.NoError(t, err)
		assert.True(t, p.IsNew)
		assert.Equal(t, want.side, *p.Side)
		assert.Equal(t, want.speaker, *p.SpeakerNumber)
	}

	_, err := e.Assign(ctx, studentActor("u5"), "session-1")
	assert.True(t, errs.Is(err, errs.CodeSessionFull))
}

func TestAssignIsIdempotentOnDuplicateJoin(t *testing.T) {
	e := newTestEngine("PREPARING")
	ctx := context.Background()
	actor := studentActor("u1")

	first, err := e.Assign(ctx, actor, "session-1")
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := e.Assign(ctx, actor, "session-1")
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, *first.Side, *second.Side)
	assert.Equal(t, *first.SpeakerNumber, *second.SpeakerNumber)

	count, err := e.store.CountActiveParticipants(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAssignFailsWhenSessionNotJoinable(t *testing.T) {
	e := newTestEngine("CREATED")
	_, err := e.Assign(context.Background(), studentActor("u1"), "session-1")
	assert.True(t, errs.Is(err, errs.CodeSessionNotJoinable))
}

func TestAssignFailsForNonStudent(t *testing.T) {
	e := newTestEngine("PREPARING")
	actor := identity.Actor{UserID: "f1", Role: identity.RoleFaculty, InstitutionID: "inst-1"}
	_, err := e.Assign(context.Background(), actor, "session-1")
	assert.True(t, errs.Is(err, errs.CodeUnauthorizedRole))
}

func TestAssignFailsCrossInstitution(t *testing.T) {
	e := newTestEngine("PREPARING")
	actor := identity.Actor{UserID: "u1", Role: identity.RoleStudent, InstitutionID: "other-inst"}
	_, err := e.Assign(context.Background(), actor, "session-1")
	assert.True(t, errs.Is(err, errs.CodeForbidden))
}

func userIDFor(i int) string {
	names := []string{"u1", "u2", "u3", "u4"}
	return names[i]
}
