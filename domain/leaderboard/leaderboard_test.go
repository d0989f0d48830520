package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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
	institutionID   string
	isCompleted     bool
	rubricVersionID string
	participants    []ParticipantFinalizedScores
}

func (f fakeSessionLookup) GetCompletedSession(ctx context.Context, sessionID string) (string, bool, string, error) {
	return f.institutionID, f.isCompleted, f.rubricVersionID, nil
}

func (f fakeSessionLookup) ParticipantScores(ctx context.Context, sessionID string) ([]ParticipantFinalizedScores, error) {
	return f.participants, nil
}

func facultyActor() identity.Actor {
	return identity.Actor{UserID: "f1", Role: identity.RoleFaculty, InstitutionID: "inst-1"}
}

func TestChecksumMatchesSpecExample(t *testing.T) {
	entries := []Entry{
		{Rank: 1, ParticipantID: "A", TotalScore: 87.50, TieBreakerScore: 0.8700},
		{Rank: 2, ParticipantID: "B", TotalScore: 85.00, TieBreakerScore: 0.8500},
	}

	sum := Checksum(entries)
	assert.Len(t, sum, 64)

	// Recomputing over the same entries must be byte-for-byte stable.
	assert.Equal(t, sum, Checksum(entries))

	want := sha256.Sum256([]byte("1|A|87.50|0.8700;2|B|85.00|0.8500"))
	assert.Equal(t, hex.EncodeToString(want[:]), sum)
}

func TestFreezeComputesRanksAndChecksum(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	lookup := fakeSessionLookup{
		institutionID: "inst-1", isCompleted: true, rubricVersionID: "rv1",
		participants: []ParticipantFinalizedScores{
			{ParticipantID: "A", TotalScores: []float64{87.50}, CriterionAverages: map[string]float64{"x": 0.87}, EvaluationIDs: []string{"e1"}},
			{ParticipantID: "B", TotalScores: []float64{85.00}, CriterionAverages: map[string]float64{"x": 0.85}, EvaluationIDs: []string{"e2"}},
		},
	}
	engine := NewEngine(store, lookup, events, clk, nil)

	snap, err := engine.Freeze(context.Background(), facultyActor(), "s1", "")
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, "A", snap.Entries[0].ParticipantID)
	assert.Equal(t, 1, snap.Entries[0].Rank)
	assert.Equal(t, "B", snap.Entries[1].ParticipantID)
	assert.Equal(t, 2, snap.Entries[1].Rank)
	assert.Len(t, snap.Checksum, 64)
	assert.Equal(t, GovernanceDraft, snap.Governance)

	require.NoError(t, Verify(snap))
}

func TestFreezeRejectsDuplicate(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	lookup := fakeSessionLookup{
		institutionID: "inst-1", isCompleted: true, rubricVersionID: "rv1",
		participants: []ParticipantFinalizedScores{
			{ParticipantID: "A", TotalScores: []float64{90}, CriterionAverages: map[string]float64{"x": 0.9}},
		},
	}
	engine := NewEngine(store, lookup, events, clk, nil)

	_, err := engine.Freeze(context.Background(), facultyActor(), "s1", "")
	require.NoError(t, err)

	_, err = engine.Freeze(context.Background(), facultyActor(), "s1", "")
	assert.True(t, errs.Is(err, errs.CodeAlreadyFrozen))
}

func TestFreezeRejectsIncompleteTournament(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	lookup := fakeSessionLookup{
		institutionID: "inst-1", isCompleted: true, rubricVersionID: "rv1",
		participants: []ParticipantFinalizedScores{
			{ParticipantID: "A", TotalScores: []float64{90}, CriterionAverages: map[string]float64{"x": 0.9}},
			{ParticipantID: "B", TotalScores: nil},
		},
	}
	engine := NewEngine(store, lookup, events, clk, nil)

	_, err := engine.Freeze(context.Background(), facultyActor(), "s1", "")
	assert.True(t, errs.Is(err, errs.CodeIncompleteTournament))
}

func TestGovernanceCannotPublishDraftDirectly(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	lookup := fakeSessionLookup{
		institutionID: "inst-1", isCompleted: true, rubricVersionID: "rv1",
		participants: []ParticipantFinalizedScores{
			{ParticipantID: "A", TotalScores: []float64{90}, CriterionAverages: map[string]float64{"x": 0.9}},
		},
	}
	engine := NewEngine(store, lookup, events, clk, nil)
	_, err := engine.Freeze(context.Background(), facultyActor(), "s1", "")
	require.NoError(t, err)

	_, err = engine.Publish(context.Background(), facultyActor(), "s1")
	require.Error(t, err)
	typed, ok := errs.As(err)
	require.True(t, ok)
	assert.Equal(t, errs.CodePreconditionFailed, typed.Code)
	assert.Equal(t, "must be finalized", typed.Message)
}

func TestGovernanceFullLattice(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	events := eventlog.NewMemoryStore(clk, nil)
	store := NewMemoryStore()
	lookup := fakeSessionLookup{
		institutionID: "inst-1", isCompleted: true, rubricVersionID: "rv1",
		participants: []ParticipantFinalizedScores{
			{ParticipantID: "A", TotalScores: []float64{90}, CriterionAverages: map[string]float64{"x": 0.9}},
		},
	}
	engine := NewEngine(store, lookup, events, clk, nil)
	_, err := engine.Freeze(context.Background(), facultyActor(), "s1", "")
	require.NoError(t, err)

	_, err = engine.AdvanceGovernance(context.Background(), facultyActor(), false, "s1", GovernancePendingApproval, "")
	require.NoError(t, err)

	_, err = engine.AdvanceGovernance(context.Background(), facultyActor(), false, "s1", GovernanceFinalized, "")
	assert.True(t, errs.Is(err, errs.CodeForbidden), "finalize requires approver capability, not just faculty")

	final, err := engine.AdvanceGovernance(context.Background(), facultyActor(), true, "s1", GovernanceFinalized, "")
	require.NoError(t, err)
	assert.True(t, final.IsFinalized())

	published, err := engine.Publish(context.Background(), facultyActor(), "s1")
	require.NoError(t, err)
	assert.True(t, published.IsPublished())
	assert.True(t, published.VisibleToStudents(clk.Now().Unix()))
}
