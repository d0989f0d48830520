package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/moot-session-engine/domain/leaderboard"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// LeaderboardStore is the Postgres-backed leaderboard.Store. It locks on
// (session_id) by always taking a row lock on the parent session row, then
// also locking the snapshot row when one exists, so a concurrent freeze
// attempt on the same session serializes rather than
// racing to insert (spec.md §4.6 step 3: duplicate insert is
// ALREADY_FROZEN, never a silent overwrite).
type LeaderboardStore struct {
	DB store.DB
}

// NewLeaderboardStore constructs a LeaderboardStore.
func NewLeaderboardStore(db store.DB) *LeaderboardStore {
	return &LeaderboardStore{DB: db}
}

// WithLock implements leaderboard.Store.
func (s *LeaderboardStore) WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context, existing *leaderboard.Snapshot) (leaderboard.Snapshot, error)) (leaderboard.Snapshot, error) {
	var result leaderboard.Snapshot
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		// The session row itself is the lock: every freeze attempt for
		// this session, first or duplicate, must serialize against it.
		var discard string
		if err := tx.QueryRowContext(ctx, `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&discard); err != nil {
			if err == sql.ErrNoRows {
				return errs.NotFound("session", sessionID)
			}
			return err
		}

		existing, err := loadSnapshot(ctx, tx, sessionID)
		if err != nil && !errs.Is(err, errs.CodeNotFound) {
			return err
		}
		var existingPtr *leaderboard.Snapshot
		if err == nil {
			existingPtr = &existing
		}

		updated, err := fn(txContext(ctx, tx), existingPtr)
		if err != nil {
			return err
		}

		entriesJSON, err := json.Marshal(updated.Entries)
		if err != nil {
			return err
		}

		if existingPtr == nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO leaderboard_snapshots
					(id, session_id, institution_id, frozen_at, frozen_by_user_id, rubric_version_id,
					 total_participants, checksum, governance_state, invalidation_reason,
					 publication_mode, publication_date, entries)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			`, updated.ID, sessionID, updated.InstitutionID, updated.FrozenAt, updated.FrozenByUserID,
				updated.RubricVersionID, updated.TotalParticipants, updated.Checksum, updated.Governance,
				updated.InvalidationReason, updated.PublicationMode, updated.PublicationDate, entriesJSON)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE leaderboard_snapshots
				SET governance_state = $2, invalidation_reason = $3, publication_mode = $4, publication_date = $5
				WHERE session_id = $1
			`, sessionID, updated.Governance, updated.InvalidationReason, updated.PublicationMode, updated.PublicationDate)
		}
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// Get implements leaderboard.Store.
func (s *LeaderboardStore) Get(ctx context.Context, sessionID string) (leaderboard.Snapshot, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, session_id, institution_id, frozen_at, frozen_by_user_id, rubric_version_id,
		       total_participants, checksum, governance_state, invalidation_reason,
		       publication_mode, publication_date, entries
		FROM leaderboard_snapshots
		WHERE session_id = $1
	`, sessionID)
	return scanSnapshot(row)
}

func loadSnapshot(ctx context.Context, tx *sql.Tx, sessionID string) (leaderboard.Snapshot, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, session_id, institution_id, frozen_at, frozen_by_user_id, rubric_version_id,
		       total_participants, checksum, governance_state, invalidation_reason,
		       publication_mode, publication_date, entries
		FROM leaderboard_snapshots
		WHERE session_id = $1
		FOR UPDATE
	`, sessionID)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (leaderboard.Snapshot, error) {
	var snap leaderboard.Snapshot
	var invalidationReason sql.NullString
	var publicationDate sql.NullInt64
	var entriesJSON []byte

	if err := row.Scan(&snap.ID, &snap.SessionID, &snap.InstitutionID, &snap.FrozenAt, &snap.FrozenByUserID,
		&snap.RubricVersionID, &snap.TotalParticipants, &snap.Checksum, &snap.Governance, &invalidationReason,
		&snap.PublicationMode, &publicationDate, &entriesJSON); err != nil {
		if err == sql.ErrNoRows {
			return leaderboard.Snapshot{}, errs.NotFound("leaderboard_snapshot", "")
		}
		return leaderboard.Snapshot{}, err
	}
	if invalidationReason.Valid {
		snap.InvalidationReason = &invalidationReason.String
	}
	if publicationDate.Valid {
		snap.PublicationDate = &publicationDate.Int64
	}
	if err := json.Unmarshal(entriesJSON, &snap.Entries); err != nil {
		return leaderboard.Snapshot{}, err
	}
	return snap, nil
}
