// Package evaluation implements the Evaluation Engine (spec.md §4.5):
// judge scoring under a frozen rubric, with immutability after
// finalization and a blind-view projector that strips identity-bearing
// fields before judge-facing code ever sees them.
package evaluation

import (
	"context"
	"sort"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/domain/eventlog"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/domain/rubric"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// Evaluation is an individual judge's scoring of a round or project
// (spec.md §3).
type Evaluation struct {
	ID              string
	AssignmentID    string
	JudgeID         string
	RubricVersionID string
	Scores          map[string]int
	TotalScore      float64
	Remarks         string
	IsDraft         bool
	IsFinal         bool
	FinalizedAt     *int64
}

// Assignment links a judge to the round or project being evaluated,
// carrying the is_blind flag that gates BlindProjector use.
type Assignment struct {
	ID            string
	InstitutionID string
	JudgeID       string
	TargetID      string
	IsBlind       bool
}

// Store is the persistence contract for evaluations, locked per
// (assignment, judge) so concurrent create/update/finalize calls on the
// same row serialize.
type Store interface {
	WithLock(ctx context.Context, assignmentID, judgeID string, fn func(ctx context.Context, existing *Evaluation) (Evaluation, error)) (Evaluation, error)
	ListFinalized(ctx context.Context, targetID string) ([]Evaluation, error)
}

// AssignmentLookup resolves an assignment and its rubric version.
type AssignmentLookup interface {
	GetAssignment(ctx context.Context, assignmentID string) (Assignment, error)
	GetRubricVersion(ctx context.Context, rubricVersionID string) (rubric.Version, error)
}

// Engine implements the Evaluation Engine's operations.
type Engine struct {
	store      Store
	assignment AssignmentLookup
	events     eventlog.Store
	clock      clock.Clock
	metrics    *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(store Store, assignment AssignmentLookup, events eventlog.Store, clk clock.Clock, m *metrics.Metrics) *Engine {
	return &Engine{store: store, assignment: assignment, events: events, clock: clk, metrics: m}
}

// CreateOrUpdate implements create_or_update_evaluation (spec.md §4.5).
func (e *Engine) CreateOrUpdate(ctx context.Context, actor identity.Actor, assignmentID, rubricVersionID string, scores map[string]int, remarks string) (Evaluation, error) {
	assignment, err := e.assignment.GetAssignment(ctx, assignmentID)
	if err != nil {
		return Evaluation{}, err
	}
	if err := identity.RequireSameInstitution(actor, assignment.InstitutionID); err != nil {
		return Evaluation{}, err
	}

	rv, err := e.assignment.GetRubricVersion(ctx, rubricVersionID)
	if err != nil {
		return Evaluation{}, err
	}
	if err := rv.ValidateScores(scores); err != nil {
		return Evaluation{}, err
	}
	total := rv.TotalScore(scores)

	isUpdate := false
	result, err := e.store.WithLock(ctx, assignmentID, actor.UserID, func(ctx context.Context, existing *Evaluation) (Evaluation, error) {
		isUpdate = existing != nil
		if existing != nil && existing.IsFinal {
			return Evaluation{}, errs.EvaluationLocked()
		}
		ev := Evaluation{
			AssignmentID:    assignmentID,
			JudgeID:         actor.UserID,
			RubricVersionID: rubricVersionID,
			Scores:          scores,
			TotalScore:      total,
			Remarks:         remarks,
			IsDraft:         true,
		}
		if existing != nil {
			ev.ID = existing.ID
		}
		return ev, nil
	})

	action := "CREATED"
	if isUpdate {
		action = "UPDATED"
	}
	e.audit(ctx, assignmentID, actor.UserID, action, err)
	return result, err
}

// Finalize implements finalize_evaluation (spec.md §4.5): re-validates,
// then locks the row immutable.
func (e *Engine) Finalize(ctx context.Context, actor identity.Actor, assignmentID string) (Evaluation, error) {
	result, err := e.store.WithLock(ctx, assignmentID, actor.UserID, func(ctx context.Context, existing *Evaluation) (Evaluation, error) {
		if existing == nil {
			return Evaluation{}, errs.NotFound("evaluation", assignmentID)
		}
		if existing.IsFinal {
			return *existing, nil // idempotent: finalize on finalized returns unchanged
		}

		rv, err := e.assignment.GetRubricVersion(ctx, existing.RubricVersionID)
		if err != nil {
			return Evaluation{}, err
		}
		if err := rv.ValidateScores(existing.Scores); err != nil {
			return Evaluation{}, err
		}

		now := e.clock.Now().Unix()
		ev := *existing
		ev.TotalScore = rv.TotalScore(existing.Scores)
		ev.IsDraft = false
		ev.IsFinal = true
		ev.FinalizedAt = &now
		return ev, nil
	})

	e.audit(ctx, assignmentID, actor.UserID, "FINALIZED", err)
	return result, err
}

// RankedEntry is one participant's aggregated standing, produced by
// Aggregate.
type RankedEntry struct {
	TargetID   string
	MeanScore  float64
	Rank       int
	Evaluators int
}

// Aggregate implements aggregate(aggregate_target) → ranked list
// (spec.md §4.5): reads only finalized evaluations, means total_score
// across judges per target, sorts desc, assigns competition ranking
// (ties share a rank, next rank is skipped by tie-group size).
func (e *Engine) Aggregate(ctx context.Context, targetIDs []string) ([]RankedEntry, error) {
	means := make(map[string]float64, len(targetIDs))
	counts := make(map[string]int, len(targetIDs))

	for _, target := range targetIDs {
		finals, err := e.store.ListFinalized(ctx, target)
		if err != nil {
			return nil, err
		}
		var sum float64
		for _, ev := range finals {
			sum += ev.TotalScore
		}
		if len(finals) > 0 {
			means[target] = sum / float64(len(finals))
		}
		counts[target] = len(finals)
	}

	entries := make([]RankedEntry, 0, len(targetIDs))
	for _, target := range targetIDs {
		entries = append(entries, RankedEntry{TargetID: target, MeanScore: means[target], Evaluators: counts[target]})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].MeanScore != entries[j].MeanScore {
			return entries[i].MeanScore > entries[j].MeanScore
		}
		return entries[i].TargetID < entries[j].TargetID
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].MeanScore != entries[i-1].MeanScore {
			rank = i + 1
		}
		entries[i].Rank = rank
	}
	return entries, nil
}

func (e *Engine) audit(ctx context.Context, assignmentID, actorUserID, action string, opErr error) {
	actor := actorUserID
	if opErr != nil {
		msg := opErr.Error()
		_, _ = e.events.Append(ctx, audit.NewFailure("evaluation", assignmentID, action, &actor, nil, nil, msg), nil)
		return
	}
	_, _ = e.events.Append(ctx, audit.NewSuccess("evaluation", assignmentID, action, &actor, nil, nil, nil), nil)
}
