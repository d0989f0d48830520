package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/R3E-Network/moot-session-engine/domain/leaderboard"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/store"
)

// LeaderboardLookupStore is the Postgres-backed leaderboard.SessionLookup,
// reading the session row and rolling up each participant's finalized
// evaluations across every round of the session.
type LeaderboardLookupStore struct {
	DB store.DB
}

// NewLeaderboardLookupStore constructs a LeaderboardLookupStore.
func NewLeaderboardLookupStore(db store.DB) *LeaderboardLookupStore {
	return &LeaderboardLookupStore{DB: db}
}

// GetCompletedSession implements leaderboard.SessionLookup.
func (s *LeaderboardLookupStore) GetCompletedSession(ctx context.Context, sessionID string) (string, bool, string, error) {
	var institutionID, state, rubricVersionID string
	row := s.DB.QueryRowContext(ctx, `
		SELECT institution_id, state, COALESCE(default_rubric_version_id, '')
		FROM sessions
		WHERE id = $1
	`, sessionID)
	if err := row.Scan(&institutionID, &state, &rubricVersionID); err != nil {
		if err == sql.ErrNoRows {
			return "", false, "", errs.NotFound("session", sessionID)
		}
		return "", false, "", err
	}
	return institutionID, state == "COMPLETED", rubricVersionID, nil
}

// ParticipantScores implements leaderboard.SessionLookup, aggregating
// every participant's finalized evaluations across all rounds of the
// session. Each participant's total_scores slice holds one entry per
// finalized evaluation; criterion_averages is the per-criterion mean
// across those same evaluations, matching the Evaluation Engine's scoring
// semantics (spec.md §4.5) rather than recomputing them independently.
func (s *LeaderboardLookupStore) ParticipantScores(ctx context.Context, sessionID string) ([]leaderboard.ParticipantFinalizedScores, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT p.id, COALESCE(p.side, ''), COALESCE(p.speaker_number, 0),
		       e.id, e.total_score, e.scores
		FROM participants p
		JOIN assignments a ON a.target_id IN (
			SELECT r.id FROM rounds r WHERE r.session_id = p.session_id
		) AND a.judge_id IS NOT NULL
		JOIN evaluations e ON e.assignment_id = a.id AND e.is_final
		WHERE p.session_id = $1 AND p.is_active
		ORDER BY p.id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byParticipant := make(map[string]*leaderboard.ParticipantFinalizedScores)
	order := make([]string, 0)
	criterionSums := make(map[string]map[string]float64)
	criterionCounts := make(map[string]map[string]int)

	for rows.Next() {
		var participantID, side, evaluationID string
		var speakerNumber int
		var totalScore float64
		var scoresJSON []byte
		if err := rows.Scan(&participantID, &side, &speakerNumber, &evaluationID, &totalScore, &scoresJSON); err != nil {
			return nil, err
		}

		p, ok := byParticipant[participantID]
		if !ok {
			p = &leaderboard.ParticipantFinalizedScores{
				ParticipantID:     participantID,
				Side:              side,
				SpeakerNumber:     speakerNumber,
				CriterionAverages: map[string]float64{},
			}
			byParticipant[participantID] = p
			order = append(order, participantID)
			criterionSums[participantID] = map[string]float64{}
			criterionCounts[participantID] = map[string]int{}
		}
		p.TotalScores = append(p.TotalScores, totalScore)
		p.EvaluationIDs = append(p.EvaluationIDs, evaluationID)

		var scores map[string]int
		if err := json.Unmarshal(scoresJSON, &scores); err != nil {
			return nil, err
		}
		for k, v := range scores {
			criterionSums[participantID][k] += float64(v)
			criterionCounts[participantID][k]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]leaderboard.ParticipantFinalizedScores, 0, len(order))
	for _, id := range order {
		p := byParticipant[id]
		for k, sum := range criterionSums[id] {
			p.CriterionAverages[k] = sum / float64(criterionCounts[id][k])
		}
		out = append(out, *p)
	}
	return out, nil
}
