package postgres

import (
	"context"
	"database/sql"

	"github.com/R3E-Network/moot-session-engine/domain/assignment"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// AssignmentStore is the Postgres-backed assignment.Store. Lock
// granularity is the session row itself: WithSessionLock takes a
// SELECT ... FOR UPDATE on the sessions row for the duration of fn,
// serializing joins for one session while other sessions proceed freely.
type AssignmentStore struct {
	DB store.DB
}

// NewAssignmentStore constructs an AssignmentStore.
func NewAssignmentStore(db store.DB) *AssignmentStore {
	return &AssignmentStore{DB: db}
}

// WithSessionLock implements assignment.Store.
func (s *AssignmentStore) WithSessionLock(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	return store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var discard string
		row := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID)
		if err := row.Scan(&discard); err != nil {
			if err == sql.ErrNoRows {
				return errs.NotFound("session", sessionID)
			}
			return err
		}
		return fn(txContext(ctx, tx))
	})
}

// FindActiveParticipant implements assignment.Store.
func (s *AssignmentStore) FindActiveParticipant(ctx context.Context, sessionID, userID string) (*assignment.Participant, bool, error) {
	db := txFromContext(ctx, s.DB)
	row := db.QueryRowContext(ctx, `
		SELECT id, session_id, user_id, side, speaker_number, join_timestamp, is_active
		FROM participants
		WHERE session_id = $1 AND user_id = $2 AND is_active
	`, sessionID, userID)

	var p assignment.Participant
	var side sql.NullString
	var speaker sql.NullInt64
	var joinTS sql.NullInt64
	switch err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &side, &speaker, &joinTS, &p.IsActive); err {
	case nil:
		if side.Valid {
			sv := assignment.Side(side.String)
			p.Side = &sv
		}
		if speaker.Valid {
			sp := int(speaker.Int64)
			p.SpeakerNumber = &sp
		}
		p.JoinTimestamp = joinTS.Int64
		return &p, true, nil
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// CountActiveParticipants implements assignment.Store.
func (s *AssignmentStore) CountActiveParticipants(ctx context.Context, sessionID string) (int, error) {
	db := txFromContext(ctx, s.DB)
	var count int
	row := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participants
		WHERE session_id = $1 AND is_active AND side IS NOT NULL
	`, sessionID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// InsertParticipant implements assignment.Store.
func (s *AssignmentStore) InsertParticipant(ctx context.Context, p assignment.Participant) error {
	db := txFromContext(ctx, s.DB)
	_, err := db.ExecContext(ctx, `
		INSERT INTO participants (id, session_id, user_id, side, speaker_number, join_timestamp, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,true)
	`, p.ID, p.SessionID, p.UserID, p.Side, p.SpeakerNumber, p.JoinTimestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.RaceCondition("concurrent insert claimed the same side/speaker slot")
		}
		return err
	}
	return nil
}
