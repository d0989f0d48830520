// Package eventlog implements the append-only Event Log (spec.md §4.1):
// every state-changing operation across the engine writes through it in
// the same transaction as the domain mutation it describes, so that
// readers always see either both or neither.
package eventlog

import (
	"context"
	"sync"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// Store is the persistence contract for the Event Log. Implementations
// (in-memory here, Postgres in internal/store/postgres) must guarantee
// that (aggregate_id, sequence_number) is unique and rows are immutable.
type Store interface {
	// Append assigns the next sequence_number for aggregateID and persists
	// evt, returning the assigned sequence. If expectedPrevSeq is non-nil,
	// Append fails with CONCURRENT_WRITE (surfaced as
	// errs.CodeConcurrentModification) when the aggregate's current
	// highest sequence does not match it.
	Append(ctx context.Context, evt audit.Event, expectedPrevSeq *int64) (int64, error)

	// Replay returns events for aggregateID with sequence >= fromSequence,
	// ordered ascending, restartable from any cursor.
	Replay(ctx context.Context, aggregateID string, fromSequence int64) ([]audit.Event, error)

	// Since returns events across all aggregates with a global cursor
	// greater than cursor, ordered ascending, for live-delivery fan-out.
	Since(ctx context.Context, cursor int64) ([]audit.Event, error)
}

// entry pairs a stored event with the monotonically increasing global
// cursor used by Since, independent of the per-aggregate Sequence.
type entry struct {
	globalCursor int64
	evt          audit.Event
}

// MemoryStore is an in-process Event Log, safe for concurrent use. It
// mirrors the durability contract a single-node deployment needs without
// a database: a real deployment behind multiple processes must use the
// Postgres-backed store instead.
type MemoryStore struct {
	mu           sync.Mutex
	clock        clock.Clock
	metrics      *metrics.Metrics
	nextSeq      map[string]int64 // aggregate_id -> last assigned sequence_number
	byAggregate  map[string][]audit.Event
	all          []entry
	globalCursor int64
}

// NewMemoryStore constructs an empty MemoryStore. m may be nil to skip
// metrics recording, e.g. in unit tests that construct many stores.
func NewMemoryStore(clk clock.Clock, m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		clock:       clk,
		metrics:     m,
		nextSeq:     make(map[string]int64),
		byAggregate: make(map[string][]audit.Event),
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, evt audit.Event, expectedPrevSeq *int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.nextSeq[evt.AggregateID] // 0 if absent: no events yet
	if expectedPrevSeq != nil && *expectedPrevSeq != current {
		return 0, errs.New(errs.CodeConcurrentModification, "event log sequence mismatch").
			WithDetails("expected_prev_seq", *expectedPrevSeq).
			WithDetails("actual_prev_seq", current)
	}

	seq := current + 1
	evt.Sequence = seq
	evt.TimestampUTC = s.clock.Now()

	s.nextSeq[evt.AggregateID] = seq
	s.byAggregate[evt.AggregateID] = append(s.byAggregate[evt.AggregateID], evt)

	s.globalCursor++
	s.all = append(s.all, entry{globalCursor: s.globalCursor, evt: evt})

	if s.metrics != nil {
		s.metrics.RecordEventLogAppend(evt.AggregateType)
	}
	return seq, nil
}

// Replay implements Store.
func (s *MemoryStore) Replay(_ context.Context, aggregateID string, fromSequence int64) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.byAggregate[aggregateID]
	out := make([]audit.Event, 0, len(events))
	for _, e := range events {
		if e.Sequence >= fromSequence {
			out = append(out, e)
		}
	}
	return out, nil
}

// Since implements Store.
func (s *MemoryStore) Since(_ context.Context, cursor int64) ([]audit.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]audit.Event, 0)
	for _, e := range s.all {
		if e.globalCursor > cursor {
			out = append(out, e.evt)
		}
	}
	return out, nil
}
