package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/moot-session-engine/domain/round"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// RoundStore is the Postgres-backed round.Store and round.TurnStore,
// locking the round row for both kinds of mutation so transitions and
// turn writes serialize together, matching the in-memory store's contract.
type RoundStore struct {
	DB store.DB
}

// NewRoundStore constructs a RoundStore.
func NewRoundStore(db store.DB) *RoundStore {
	return &RoundStore{DB: db}
}

// WithLock implements round.Store.
func (s *RoundStore) WithLock(ctx context.Context, roundID string, fn func(ctx context.Context, r round.Round) (round.Round, error)) (round.Round, error) {
	var result round.Round
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var r round.Round
		var previousState sql.NullString
		var phaseStart sql.NullInt64

		row := tx.QueryRowContext(ctx, `
			SELECT id, session_id, institution_id, round_number, petitioner_id, respondent_id,
			       judge_id, state, previous_state, time_limit_seconds, phase_start_timestamp, version
			FROM rounds
			WHERE id = $1
			FOR UPDATE
		`, roundID)
		if err := row.Scan(&r.ID, &r.SessionID, &r.InstitutionID, &r.RoundNumber, &r.PetitionerID,
			&r.RespondentID, &r.JudgeID, &r.State, &previousState, &r.TimeLimitSeconds, &phaseStart, &r.Version); err != nil {
			if err == sql.ErrNoRows {
				return errs.NotFound("round", roundID)
			}
			return err
		}
		if previousState.Valid {
			prev := round.State(previousState.String)
			r.PreviousState = &prev
		}
		if phaseStart.Valid {
			r.PhaseStartTimestamp = &phaseStart.Int64
		}

		updated, err := fn(txContext(ctx, tx), r)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rounds SET state = $2, previous_state = $3, phase_start_timestamp = $4, version = $5
			WHERE id = $1
		`, updated.ID, updated.State, updated.PreviousState, updated.PhaseStartTimestamp, updated.Version)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// WithRoundLock implements round.TurnStore, locking the same round row
// WithLock does, then loading and persisting the round's full turn list.
func (s *RoundStore) WithRoundLock(ctx context.Context, roundID string, fn func(ctx context.Context, turns []round.Turn) ([]round.Turn, error)) ([]round.Turn, error) {
	var result []round.Turn
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var discard string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM rounds WHERE id = $1 FOR UPDATE`, roundID).Scan(&discard); err != nil {
			if err == sql.ErrNoRows {
				return errs.NotFound("round", roundID)
			}
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT id, round_id, participant_id, turn_order, allowed_seconds, started_at,
			       submitted_at, transcript, is_submitted, auto_submitted
			FROM turns
			WHERE round_id = $1
			ORDER BY turn_order ASC
		`, roundID)
		if err != nil {
			return err
		}
		turns, err := scanTurns(rows)
		rows.Close()
		if err != nil {
			return err
		}

		updated, err := fn(txContext(ctx, tx), turns)
		if err != nil {
			return err
		}

		for _, t := range updated {
			if _, err := tx.ExecContext(ctx, `
				UPDATE turns SET started_at = $2, submitted_at = $3, transcript = $4,
				                  is_submitted = $5, auto_submitted = $6
				WHERE id = $1
			`, t.ID, t.StartedAt, t.SubmittedAt, t.Transcript, t.IsSubmitted, t.AutoSubmitted); err != nil {
				return err
			}
		}
		result = updated
		return nil
	})
	return result, err
}

// ListStartedUnsubmittedTurns implements round.ActiveTurnLister for the
// Supervisor's sweep.
func (s *RoundStore) ListStartedUnsubmittedTurns(ctx context.Context) ([]round.Turn, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, round_id, participant_id, turn_order, allowed_seconds, started_at,
		       submitted_at, transcript, is_submitted, auto_submitted
		FROM turns
		WHERE started_at IS NOT NULL AND is_submitted = false
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTurns(rows)
}

func scanTurns(rows *sql.Rows) ([]round.Turn, error) {
	var out []round.Turn
	for rows.Next() {
		var t round.Turn
		var startedAt, submittedAt sql.NullInt64
		if err := rows.Scan(&t.ID, &t.RoundID, &t.ParticipantID, &t.TurnOrder, &t.AllowedSeconds,
			&startedAt, &submittedAt, &t.Transcript, &t.IsSubmitted, &t.AutoSubmitted); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t.StartedAt = &startedAt.Int64
		}
		if submittedAt.Valid {
			t.SubmittedAt = &submittedAt.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
