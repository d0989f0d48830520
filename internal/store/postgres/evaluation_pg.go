package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/moot-session-engine/domain/evaluation"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// EvaluationStore is the Postgres-backed evaluation.Store, locking the
// (assignment_id, judge_id) row for the duration of create/update/
// finalize, matching the in-memory store's per-key serialization.
type EvaluationStore struct {
	DB store.DB
}

// NewEvaluationStore constructs an EvaluationStore.
func NewEvaluationStore(db store.DB) *EvaluationStore {
	return &EvaluationStore{DB: db}
}

// WithLock implements evaluation.Store.
func (s *EvaluationStore) WithLock(ctx context.Context, assignmentID, judgeID string, fn func(ctx context.Context, existing *evaluation.Evaluation) (evaluation.Evaluation, error)) (evaluation.Evaluation, error) {
	var result evaluation.Evaluation
	err := store.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		var existing *evaluation.Evaluation
		var id, rubricVersionID, remarks string
		var scoresJSON []byte
		var totalScore float64
		var isDraft, isFinal bool
		var finalizedAt sql.NullInt64

		row := tx.QueryRowContext(ctx, `
			SELECT id, rubric_version_id, scores, total_score, remarks, is_draft, is_final, finalized_at
			FROM evaluations
			WHERE assignment_id = $1 AND judge_id = $2
			FOR UPDATE
		`, assignmentID, judgeID)
		switch err := row.Scan(&id, &rubricVersionID, &scoresJSON, &totalScore, &remarks, &isDraft, &isFinal, &finalizedAt); err {
		case nil:
			scores := map[string]int{}
			if err := json.Unmarshal(scoresJSON, &scores); err != nil {
				return err
			}
			ev := evaluation.Evaluation{
				ID: id, AssignmentID: assignmentID, JudgeID: judgeID, RubricVersionID: rubricVersionID,
				Scores: scores, TotalScore: totalScore, Remarks: remarks, IsDraft: isDraft, IsFinal: isFinal,
			}
			if finalizedAt.Valid {
				ev.FinalizedAt = &finalizedAt.Int64
			}
			existing = &ev
		case sql.ErrNoRows:
			existing = nil
		default:
			return err
		}

		updated, err := fn(txContext(ctx, tx), existing)
		if err != nil {
			return err
		}

		scoresJSON, err = json.Marshal(updated.Scores)
		if err != nil {
			return err
		}

		if existing == nil {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO evaluations (id, assignment_id, judge_id, rubric_version_id, scores, total_score, remarks, is_draft, is_final, finalized_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, updated.ID, assignmentID, judgeID, updated.RubricVersionID, scoresJSON, updated.TotalScore,
				updated.Remarks, updated.IsDraft, updated.IsFinal, updated.FinalizedAt)
		} else {
			_, err = tx.ExecContext(ctx, `
				UPDATE evaluations
				SET rubric_version_id = $3, scores = $4, total_score = $5, remarks = $6,
				    is_draft = $7, is_final = $8, finalized_at = $9
				WHERE assignment_id = $1 AND judge_id = $2
			`, assignmentID, judgeID, updated.RubricVersionID, scoresJSON, updated.TotalScore,
				updated.Remarks, updated.IsDraft, updated.IsFinal, updated.FinalizedAt)
		}
		if err != nil {
			return err
		}
		result = updated
		return nil
	})
	return result, err
}

// ListFinalized implements evaluation.Store, joining through the
// assignments table to find every finalized evaluation for targetID.
func (s *EvaluationStore) ListFinalized(ctx context.Context, targetID string) ([]evaluation.Evaluation, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT e.id, e.assignment_id, e.judge_id, e.rubric_version_id, e.scores, e.total_score,
		       e.remarks, e.is_draft, e.is_final, e.finalized_at
		FROM evaluations e
		JOIN assignments a ON a.id = e.assignment_id
		WHERE a.target_id = $1 AND e.is_final
	`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []evaluation.Evaluation
	for rows.Next() {
		var ev evaluation.Evaluation
		var scoresJSON []byte
		var finalizedAt sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.AssignmentID, &ev.JudgeID, &ev.RubricVersionID, &scoresJSON,
			&ev.TotalScore, &ev.Remarks, &ev.IsDraft, &ev.IsFinal, &finalizedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scoresJSON, &ev.Scores); err != nil {
			return nil, err
		}
		if finalizedAt.Valid {
			ev.FinalizedAt = &finalizedAt.Int64
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
