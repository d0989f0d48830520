package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsMonotonicSequencePerAggregate(t *testing.T) {
	clk := clock.NewFrozen(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk, nil)
	ctx := context.Background()

	seq1, err := store.Append(ctx, audit.NewSuccess("session", "s1", "CREATED", nil, nil, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1)

	seq2, err := store.Append(ctx, audit.NewSuccess("session", "s1", "STARTED", nil, nil, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq2)

	seq1Other, err := store.Append(ctx, audit.NewSuccess("session", "s2", "CREATED", nil, nil, nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq1Other, "a different aggregate starts its own sequence at 1")
}

func TestAppendFailsOnSequenceMismatch(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	store := NewMemoryStore(clk, nil)
	ctx := context.Background()

	_, err := store.Append(ctx, audit.NewSuccess("session", "s1", "CREATED", nil, nil, nil, nil), nil)
	require.NoError(t, err)

	bogus := int64(99)
	_, err = store.Append(ctx, audit.NewSuccess("session", "s1", "STARTED", nil, nil, nil, nil), &bogus)
	assert.True(t, errs.Is(err, errs.CodeConcurrentModification))
}

func TestReplayReturnsEventsFromCursor(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	store := NewMemoryStore(clk, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, audit.NewSuccess("round", "r1", "TICK", nil, nil, nil, nil), nil)
		require.NoError(t, err)
	}

	events, err := store.Replay(ctx, "r1", 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Sequence)
	assert.Equal(t, int64(3), events[1].Sequence)
}

func TestSinceReturnsEventsAcrossAggregates(t *testing.T) {
	clk := clock.NewFrozen(time.Now())
	store := NewMemoryStore(clk, nil)
	ctx := context.Background()

	_, err := store.Append(ctx, audit.NewSuccess("session", "s1", "CREATED", nil, nil, nil, nil), nil)
	require.NoError(t, err)
	_, err = store.Append(ctx, audit.NewSuccess("session", "s2", "CREATED", nil, nil, nil, nil), nil)
	require.NoError(t, err)

	events, err := store.Since(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = store.Since(ctx, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "s2", events[0].AggregateID)
}
