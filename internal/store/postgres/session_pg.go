package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/moot-session-engine/domain/session"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// SessionStore is the Postgres-backed session.Store.
type SessionStore struct {
	DB store.DB
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(db store.DB) *SessionStore {
	return &SessionStore{DB: db}
}

// WithLock implements session.Store: locks the session row, runs fn, and
// persists the result within the same transaction.
func (s *SessionStore) WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context, sess session.Session) (session.Session, error)) (session.Session, error) {
	var result session.Session
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var sess session.Session
		var previousState sql.NullString
		var phaseStart, phaseDuration sql.NullInt64
		var completedAt, cancelledAt sql.NullInt64

		row := tx.QueryRowContext(ctx, `
			SELECT id, institution_id, faculty_id, session_code, state, previous_state,
			       phase_start_timestamp, phase_duration_seconds, pause_accumulated_seconds,
			       version, created_at, updated_at, completed_at, cancelled_at
			FROM sessions
			WHERE id = $1
			FOR UPDATE
		`, sessionID)
		if err := row.Scan(&sess.ID, &sess.InstitutionID, &sess.FacultyID, &sess.SessionCode,
			&sess.State, &previousState, &phaseStart, &phaseDuration, &sess.PauseAccumulatedSecs,
			&sess.Version, &sess.CreatedAt, &sess.UpdatedAt, &completedAt, &cancelledAt); err != nil {
			if err == sql.ErrNoRows {
				return errs.NotFound("session", sessionID)
			}
			return err
		}
		if previousState.Valid {
			prev := session.State(previousState.String)
			sess.PreviousState = &prev
		}
		if phaseStart.Valid {
			sess.PhaseStartTimestamp = &phaseStart.Int64
		}
		if phaseDuration.Valid {
			sess.PhaseDurationSeconds = &phaseDuration.Int64
		}
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Int64
		}
		if cancelledAt.Valid {
			sess.CancelledAt = &cancelledAt.Int64
		}

		updated, err := fn(txContext(ctx, tx), sess)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET
				state = $2, previous_state = $3, phase_start_timestamp = $4,
				phase_duration_seconds = $5, pause_accumulated_seconds = $6,
				version = $7, updated_at = $8, completed_at = $9, cancelled_at = $10
			WHERE id = $1
		`, updated.ID, updated.State, updated.PreviousState, updated.PhaseStartTimestamp,
			updated.PhaseDurationSeconds, updated.PauseAccumulatedSecs, updated.Version,
			updated.UpdatedAt, updated.CompletedAt, updated.CancelledAt)
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}
