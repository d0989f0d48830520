// Package postgres provides Postgres-backed implementations of the
// engine's domain store interfaces, built on the same per-aggregate
// SELECT ... FOR UPDATE transaction idiom as the rest of the stack.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// EventLogStore is the Postgres-backed domain/eventlog.Store.
type EventLogStore struct {
	DB      store.DB
	Metrics *metrics.Metrics
}

// NewEventLogStore constructs an EventLogStore.
func NewEventLogStore(db store.DB, m *metrics.Metrics) *EventLogStore {
	return &EventLogStore{DB: db, Metrics: m}
}

// Append locks the aggregate's highest-sequence row, validates the
// optimistic expectation, and inserts the new row in the same
// transaction, mirroring the teacher's accumulator-locked receipt append.
func (s *EventLogStore) Append(ctx context.Context, evt audit.Event, expectedPrevSeq *int64) (int64, error) {
	var assigned int64
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var current int64
		row := tx.QueryRowContext(ctx, `
			SELECT sequence_number
			FROM audit_events
			WHERE aggregate_id = $1
			ORDER BY sequence_number DESC
			LIMIT 1
			FOR UPDATE
		`, evt.AggregateID)
		if err := row.Scan(&current); err != nil && err != sql.ErrNoRows {
			return err
		}

		if expectedPrevSeq != nil && *expectedPrevSeq != current {
			return errs.New(errs.CodeConcurrentModification, "event log sequence mismatch").
				WithDetails("expected_prev_seq", *expectedPrevSeq).
				WithDetails("actual_prev_seq", current)
		}

		seq := current + 1
		payload, err := json.Marshal(evt.Payload)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO audit_events
				(aggregate_type, aggregate_id, sequence_number, action, actor_user_id,
				 from_state, to_state, payload, ip_address, timestamp_utc,
				 is_successful, error_message)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),$10,$11)
		`, evt.AggregateType, evt.AggregateID, seq, evt.Action, evt.ActorUserID,
			evt.FromState, evt.ToState, payload, evt.IPAddress,
			evt.IsSuccessful, evt.ErrorMessage)
		if err != nil {
			return err
		}
		assigned = seq
		return nil
	})
	if err != nil {
		return 0, err
	}
	if s.Metrics != nil {
		s.Metrics.RecordEventLogAppend(evt.AggregateType)
	}
	return assigned, nil
}

// Replay returns events for aggregateID at or after fromSequence.
func (s *EventLogStore) Replay(ctx context.Context, aggregateID string, fromSequence int64) ([]audit.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT aggregate_type, aggregate_id, sequence_number, action, actor_user_id,
		       from_state, to_state, payload, ip_address, timestamp_utc,
		       is_successful, error_message
		FROM audit_events
		WHERE aggregate_id = $1 AND sequence_number >= $2
		ORDER BY sequence_number ASC
	`, aggregateID, fromSequence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// Since returns events with a row id greater than cursor, across all
// aggregates, for live-delivery fan-out to reconnecting clients.
func (s *EventLogStore) Since(ctx context.Context, cursor int64) ([]audit.Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT aggregate_type, aggregate_id, sequence_number, action, actor_user_id,
		       from_state, to_state, payload, ip_address, timestamp_utc,
		       is_successful, error_message
		FROM audit_events
		WHERE id > $1
		ORDER BY id ASC
	`, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var out []audit.Event
	for rows.Next() {
		var e audit.Event
		var payload []byte
		if err := rows.Scan(&e.AggregateType, &e.AggregateID, &e.Sequence, &e.Action,
			&e.ActorUserID, &e.FromState, &e.ToState, &payload, &e.IPAddress,
			&e.TimestampUTC, &e.IsSuccessful, &e.ErrorMessage); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, used by callers that must turn a race into RACE_CONDITION
// per spec.md §4.2 step 7.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
