// Package rubric models the frozen scoring document every evaluation is
// anchored to. CRUD over rubrics is an external collaborator's concern;
// this package only models the immutable, already-authored version and the
// arithmetic the Evaluation Engine runs against it.
package rubric

import "github.com/R3E-Network/moot-session-engine/internal/errs"

// Criterion is one scored dimension of a rubric.
type Criterion struct {
	Key      string
	Label    string
	MaxScore int
	// Weight is 0 when the rubric uses unweighted simple-sum scoring;
	// non-zero weights switch aggregation to the normalized weighted mean
	// described in spec.md §4.5.
	Weight float64
}

// Version is a frozen, immutable rubric document. Referenced by id from
// every evaluation so that rescoring under a changed rubric is impossible.
type Version struct {
	ID         string
	Name       string
	Criteria   []Criterion
	CreatedAt  int64 // unix seconds; immutable once set
}

// ByKey returns the map of a rubric's criteria keyed by criterion key.
func (v Version) ByKey() map[string]Criterion {
	m := make(map[string]Criterion, len(v.Criteria))
	for _, c := range v.Criteria {
		m[c.Key] = c
	}
	return m
}

// IsWeighted reports whether any criterion declares a non-zero weight.
func (v Version) IsWeighted() bool {
	for _, c := range v.Criteria {
		if c.Weight != 0 {
			return true
		}
	}
	return false
}

// ValidateScores checks that scores covers every criterion exactly once,
// each within [0, max_score]. Returns VALIDATION_FAILED on the first
// problem found, naming the offending criterion.
func (v Version) ValidateScores(scores map[string]int) error {
	byKey := v.ByKey()
	seen := make(map[string]bool, len(scores))
	for key, score := range scores {
		crit, ok := byKey[key]
		if !ok {
			return errs.ValidationFailed(key, "unknown criterion key")
		}
		if score < 0 || score > crit.MaxScore {
			return errs.ValidationFailed(key, "score out of range")
		}
		seen[key] = true
	}
	for _, c := range v.Criteria {
		if !seen[c.Key] {
			return errs.ValidationFailed(c.Key, "missing score for criterion")
		}
	}
	return nil
}

// TotalScore computes the total per spec.md §4.5: a simple sum when no
// criterion declares a weight, otherwise Σ (score/max)·weight, normalized
// to the sum of weights and scaled to a 0..100 range so the result stays
// comparable across rubrics. Callers must call
// ValidateScores first; TotalScore does not re-validate.
func (v Version) TotalScore(scores map[string]int) float64 {
	if !v.IsWeighted() {
		total := 0
		for _, s := range scores {
			total += s
		}
		return float64(total)
	}

	var weightedSum, weightTotal float64
	for _, c := range v.Criteria {
		if c.MaxScore == 0 {
			continue
		}
		ratio := float64(scores[c.Key]) / float64(c.MaxScore)
		weightedSum += ratio * c.Weight
		weightTotal += c.Weight
	}
	if weightTotal == 0 {
		return 0
	}
	return weightedSum / weightTotal * 100
}
