// Package leaderboard implements the Leaderboard Snapshot Engine
// (spec.md §4.6): freezing a completed session's ranking into an
// immutable, checksummed artifact, then governing its visibility
// through a strict approval lattice.
package leaderboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/R3E-Network/moot-session-engine/domain/audit"
	"github.com/R3E-Network/moot-session-engine/domain/eventlog"
	"github.com/R3E-Network/moot-session-engine/domain/identity"
	"github.com/R3E-Network/moot-session-engine/domain/statemachine"
	"github.com/R3E-Network/moot-session-engine/internal/clock"
	"github.com/R3E-Network/moot-session-engine/internal/errs"
	"github.com/R3E-Network/moot-session-engine/internal/metrics"
)

// GovernanceState is a leaderboard snapshot's position in the approval
// lattice (spec.md §4.6), layered over the four boolean governance flags
// the data model names (is_pending_approval, is_finalized, is_published,
// is_invalidated).
type GovernanceState string

const (
	GovernanceDraft           GovernanceState = "DRAFT"
	GovernancePendingApproval GovernanceState = "PENDING_APPROVAL"
	GovernanceFinalized       GovernanceState = "FINALIZED"
	GovernancePublished       GovernanceState = "PUBLISHED"
	GovernanceInvalidated     GovernanceState = "INVALIDATED"
)

// GovernanceTable is the canonical lattice: DRAFT -> PENDING_APPROVAL ->
// FINALIZED -> PUBLISHED, with INVALIDATED reachable from any non-terminal
// state as a soft sink. PUBLISHED and INVALIDATED are terminal.
var GovernanceTable = statemachine.NewTable([]statemachine.Transition{
	{From: string(GovernanceDraft), To: string(GovernancePendingApproval), TriggerType: "faculty", RequiresFaculty: true},
	{From: string(GovernancePendingApproval), To: string(GovernanceFinalized), TriggerType: "approver", RequiresApprover: true},
	{From: string(GovernanceFinalized), To: string(GovernancePublished), TriggerType: "faculty", RequiresFaculty: true},
	{From: "*", To: string(GovernanceInvalidated), TriggerType: "privileged", RequiresFaculty: true},
}, []string{string(GovernancePublished), string(GovernanceInvalidated)})

// PublicationMode governs scheduled visibility independent of governance
// state (spec.md §3): a FINALIZED-or-later snapshot can still be held back
// from students until PublicationDate via SCHEDULED.
type PublicationMode string

const (
	PublicationDraft     PublicationMode = "DRAFT"
	PublicationScheduled PublicationMode = "SCHEDULED"
	PublicationPublished PublicationMode = "PUBLISHED"
)

// Entry is one ranked participant within a snapshot (spec.md §3).
type Entry struct {
	ParticipantID   string
	Side            string
	SpeakerNumber   int
	TotalScore      float64
	TieBreakerScore float64
	Rank            int
	ScoreBreakdown  map[string]float64
	EvaluationIDs   []string
}

// Snapshot is the frozen, checksummed result of a session (spec.md §3).
type Snapshot struct {
	ID                 string
	SessionID          string
	InstitutionID      string
	FrozenAt           int64
	FrozenByUserID     string
	RubricVersionID    string
	TotalParticipants  int
	Checksum           string
	Governance         GovernanceState
	InvalidationReason *string
	PublicationMode    PublicationMode
	PublicationDate    *int64
	Entries            []Entry
}

// IsPendingApproval, IsFinalized, IsPublished, IsInvalidated project the
// single Governance field back onto the four named flags of spec.md §3's
// data model, for callers that want the boolean shape directly.
func (s Snapshot) IsPendingApproval() bool { return s.Governance == GovernancePendingApproval }
func (s Snapshot) IsFinalized() bool {
	return s.Governance == GovernanceFinalized || s.Governance == GovernancePublished
}
func (s Snapshot) IsPublished() bool   { return s.Governance == GovernancePublished }
func (s Snapshot) IsInvalidated() bool { return s.Governance == GovernanceInvalidated }

// VisibleToStudents reports whether the snapshot is visible to students
// at wall-clock time now: published immediately, or SCHEDULED once past
// publication_date (spec.md §4.6).
func (s Snapshot) VisibleToStudents(now int64) bool {
	if !s.IsPublished() {
		return false
	}
	switch s.PublicationMode {
	case PublicationPublished:
		return true
	case PublicationScheduled:
		return s.PublicationDate != nil && now >= *s.PublicationDate
	default:
		return false
	}
}

// ParticipantFinalizedScores is the per-participant input to Freeze:
// the finalized evaluations' total scores and per-criterion averages
// already computed by the Evaluation Engine's Aggregate step.
type ParticipantFinalizedScores struct {
	ParticipantID      string
	Side               string
	SpeakerNumber      int
	TotalScores        []float64 // one per finalized evaluation
	CriterionAverages  map[string]float64
	EvaluationIDs      []string
}

// SessionLookup resolves the session being frozen and its participant
// roster.
type SessionLookup interface {
	// GetCompletedSession returns the session's institution id and
	// whether its state is COMPLETED.
	GetCompletedSession(ctx context.Context, sessionID string) (institutionID string, isCompleted bool, rubricVersionID string, err error)
	// ParticipantScores returns each participating team's finalized
	// evaluation scores. A participant with zero finalized evaluations
	// triggers INCOMPLETE_TOURNAMENT.
	ParticipantScores(ctx context.Context, sessionID string) ([]ParticipantFinalizedScores, error)
}

// Store is the persistence contract for snapshots, locked per session_id.
type Store interface {
	// WithLock locks (or creates a placeholder for) the session's
	// snapshot row for the duration of fn. existing is nil when no
	// snapshot has been frozen yet.
	WithLock(ctx context.Context, sessionID string, fn func(ctx context.Context, existing *Snapshot) (Snapshot, error)) (Snapshot, error)
	Get(ctx context.Context, sessionID string) (Snapshot, error)
}

// Engine implements freeze and the governance transitions.
type Engine struct {
	store    Store
	sessions SessionLookup
	events   eventlog.Store
	clock    clock.Clock
	metrics  *metrics.Metrics
}

// NewEngine constructs an Engine.
func NewEngine(store Store, sessions SessionLookup, events eventlog.Store, clk clock.Clock, m *metrics.Metrics) *Engine {
	return &Engine{store: store, sessions: sessions, events: events, clock: clk, metrics: m}
}

// Freeze implements freeze(session_id, actor_faculty_id) (spec.md §4.6).
func (e *Engine) Freeze(ctx context.Context, actor identity.Actor, sessionID, rubricVersionIDOverride string) (Snapshot, error) {
	institutionID, isCompleted, rubricVersionID, err := e.sessions.GetCompletedSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if err := identity.RequireFaculty(actor); err != nil {
		return Snapshot{}, err
	}
	if err := identity.RequireSameInstitution(actor, institutionID); err != nil {
		return Snapshot{}, err
	}
	if !isCompleted {
		return Snapshot{}, errs.PreconditionFailed("session must be COMPLETED before freezing")
	}
	if rubricVersionIDOverride != "" {
		rubricVersionID = rubricVersionIDOverride
	}

	scores, err := e.sessions.ParticipantScores(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	for _, p := range scores {
		if len(p.TotalScores) == 0 {
			return Snapshot{}, errs.IncompleteTournament(fmt.Sprintf("participant %s has no finalized evaluation", p.ParticipantID))
		}
	}

	entries := buildEntries(scores)
	checksum := Checksum(entries)

	result, err := e.store.WithLock(ctx, sessionID, func(ctx context.Context, existing *Snapshot) (Snapshot, error) {
		if existing != nil {
			return Snapshot{}, errs.AlreadyFrozen(sessionID)
		}
		return Snapshot{
			SessionID:         sessionID,
			InstitutionID:     institutionID,
			FrozenAt:          e.clock.Now().Unix(),
			FrozenByUserID:    actor.UserID,
			RubricVersionID:   rubricVersionID,
			TotalParticipants: len(entries),
			Checksum:          checksum,
			Governance:        GovernanceDraft,
			PublicationMode:   PublicationDraft,
			Entries:           entries,
		}, nil
	})

	e.audit(ctx, sessionID, actor.UserID, "LEADERBOARD_FROZEN", err)
	return result, err
}

// buildEntries computes total_score (mean of finalized evaluations),
// tie_breaker_score (sum of per-criterion averages, scaled to 4 decimal
// places), sorts descending by (total_score, tie_breaker_score,
// participant_id), and assigns ranks (spec.md §4.6 steps 4-5): entries with
// equal (total_score, tie_breaker_score) share a rank, and the next rank
// skips by the size of that group.
func buildEntries(scores []ParticipantFinalizedScores) []Entry {
	entries := make([]Entry, 0, len(scores))
	for _, p := range scores {
		var sum float64
		for _, s := range p.TotalScores {
			sum += s
		}
		total := round4(sum / float64(len(p.TotalScores)))

		var tbSum float64
		for _, avg := range p.CriterionAverages {
			tbSum += avg
		}
		tieBreaker := round4(tbSum)

		entries = append(entries, Entry{
			ParticipantID:   p.ParticipantID,
			Side:            p.Side,
			SpeakerNumber:   p.SpeakerNumber,
			TotalScore:      total,
			TieBreakerScore: tieBreaker,
			ScoreBreakdown:  p.CriterionAverages,
			EvaluationIDs:   p.EvaluationIDs,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalScore != entries[j].TotalScore {
			return entries[i].TotalScore > entries[j].TotalScore
		}
		if entries[i].TieBreakerScore != entries[j].TieBreakerScore {
			return entries[i].TieBreakerScore > entries[j].TieBreakerScore
		}
		return entries[i].ParticipantID < entries[j].ParticipantID
	})

	rank := 0
	for i := range entries {
		if i == 0 || entries[i].TotalScore != entries[i-1].TotalScore || entries[i].TieBreakerScore != entries[i-1].TieBreakerScore {
			rank = i + 1
		}
		entries[i].Rank = rank
	}
	return entries
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

// Checksum computes the exact canonical byte sequence and SHA-256 hex
// digest from spec.md §8 scenario (e): entries in rank order, joined
// "rank|participant_id|total_score|tie_breaker_score" with ";" between
// rows, total_score at 2 decimal places and tie_breaker_score at 4.
func Checksum(entries []Entry) string {
	rows := make([]string, len(entries))
	for i, e := range entries {
		rows[i] = fmt.Sprintf("%d|%s|%.2f|%.4f", e.Rank, e.ParticipantID, e.TotalScore, e.TieBreakerScore)
	}
	canonical := strings.Join(rows, ";")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the checksum over snap's stored entries and compares
// it to the stored value, implementing the §8 scenario (e) verifier and
// the checksum-recomputation fatal-condition check from §9.
func Verify(snap Snapshot) error {
	recomputed := Checksum(snap.Entries)
	if recomputed != snap.Checksum {
		return errs.ChecksumMismatch(snap.Checksum, recomputed)
	}
	return nil
}

// VerifyChecksum wraps Verify with metrics recording, for callers with
// access to an Engine's configured Metrics instance.
func (e *Engine) VerifyChecksum(snap Snapshot) error {
	if err := Verify(snap); err != nil {
		if e.metrics != nil {
			e.metrics.RecordChecksumMismatch()
		}
		return err
	}
	return nil
}

// AdvanceGovernance implements the DRAFT -> PENDING_APPROVAL -> FINALIZED
// -> PUBLISHED (-> INVALIDATED) lattice transitions (spec.md §4.6).
// isApprover carries the separate approver capability spec.md names,
// distinct from general faculty authority.
func (e *Engine) AdvanceGovernance(ctx context.Context, actor identity.Actor, isApprover bool, sessionID string, target GovernanceState, reason string) (Snapshot, error) {
	result, err := e.store.WithLock(ctx, sessionID, func(ctx context.Context, existing *Snapshot) (Snapshot, error) {
		if existing == nil {
			return Snapshot{}, errs.NotFound("leaderboard_snapshot", sessionID)
		}
		if err := identity.RequireSameInstitution(actor, existing.InstitutionID); err != nil {
			return Snapshot{}, err
		}

		tr, ok := GovernanceTable.Lookup(string(existing.Governance), string(target))
		if !ok {
			return Snapshot{}, errs.InvalidTransition(string(existing.Governance), string(target), GovernanceTable.AllowedNext(string(existing.Governance)))
		}
		if tr.RequiresFaculty && !actor.Role.IsFaculty() {
			return Snapshot{}, errs.Forbidden("transition requires faculty authority")
		}
		if tr.RequiresApprover && !isApprover {
			return Snapshot{}, errs.Forbidden("transition requires approver capability")
		}

		snap := *existing
		snap.Governance = target
		if target == GovernanceInvalidated {
			r := reason
			snap.InvalidationReason = &r
		}
		if target == GovernancePublished && snap.PublicationMode != PublicationScheduled {
			snap.PublicationMode = PublicationPublished
		}
		return snap, nil
	})

	if e.metrics != nil && err == nil {
		e.metrics.RecordLeaderboardTransition(string(target))
	}
	e.audit(ctx, sessionID, actor.UserID, string(target), err)
	return result, err
}

// Publish is a spec.md §4.6-named convenience wrapper over
// AdvanceGovernance enforcing "only FINALIZED snapshots may be PUBLISHED"
// with the exact PRECONDITION_FAILED reason from §8 scenario (f).
func (e *Engine) Publish(ctx context.Context, actor identity.Actor, sessionID string) (Snapshot, error) {
	current, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	if current.Governance != GovernanceFinalized {
		return Snapshot{}, errs.PreconditionFailed("must be finalized")
	}
	return e.AdvanceGovernance(ctx, actor, false, sessionID, GovernancePublished, "")
}

func (e *Engine) audit(ctx context.Context, sessionID, actorUserID, action string, opErr error) {
	actor := actorUserID
	if opErr != nil {
		msg := opErr.Error()
		_, _ = e.events.Append(ctx, audit.NewFailure("leaderboard_snapshot", sessionID, action, &actor, nil, nil, msg), nil)
		return
	}
	_, _ = e.events.Append(ctx, audit.NewSuccess("leaderboard_snapshot", sessionID, action, &actor, nil, nil, nil), nil)
}
