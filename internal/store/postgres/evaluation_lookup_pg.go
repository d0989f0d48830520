package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/moot-session-engine/domain/evaluation"
	"github.com/R3E-Network/moot-session-engine/domain/rubric"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// EvaluationLookupStore is the Postgres-backed evaluation.AssignmentLookup,
// resolving a judge assignment and the frozen rubric version it scores
// against. Both tables are append-mostly: assignments are written once by
// the (out-of-scope) assignment-rotation job, rubric_versions are
// immutable once authored.
type EvaluationLookupStore struct {
	DB store.DB
}

// NewEvaluationLookupStore constructs an EvaluationLookupStore.
func NewEvaluationLookupStore(db store.DB) *EvaluationLookupStore {
	return &EvaluationLookupStore{DB: db}
}

// GetAssignment implements evaluation.AssignmentLookup.
func (s *EvaluationLookupStore) GetAssignment(ctx context.Context, assignmentID string) (evaluation.Assignment, error) {
	var a evaluation.Assignment
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, institution_id, judge_id, target_id, is_blind
		FROM assignments
		WHERE id = $1
	`, assignmentID)
	if err := row.Scan(&a.ID, &a.InstitutionID, &a.JudgeID, &a.TargetID, &a.IsBlind); err != nil {
		if err == sql.ErrNoRows {
			return evaluation.Assignment{}, errs.NotFound("assignment", assignmentID)
		}
		return evaluation.Assignment{}, err
	}
	return a, nil
}

// GetRubricVersion implements evaluation.AssignmentLookup.
func (s *EvaluationLookupStore) GetRubricVersion(ctx context.Context, rubricVersionID string) (rubric.Version, error) {
	var v rubric.Version
	var criteriaJSON []byte
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, criteria, created_at
		FROM rubric_versions
		WHERE id = $1
	`, rubricVersionID)
	if err := row.Scan(&v.ID, &v.Name, &criteriaJSON, &v.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return rubric.Version{}, errs.NotFound("rubric_version", rubricVersionID)
		}
		return rubric.Version{}, err
	}
	if err := json.Unmarshal(criteriaJSON, &v.Criteria); err != nil {
		return rubric.Version{}, err
	}
	return v, nil
}
