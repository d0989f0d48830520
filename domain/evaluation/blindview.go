package evaluation

import "strings"

// BlindConfig controls which identity-bearing fields BlindProjector
// strips from a judge-facing view. Repurposed from the teacher's
// secret-redaction config shape: where that Redactor hid credentials
// from logs, this one hides participant identity from judges.
type BlindConfig struct {
	Enabled       bool
	RedactionText string
	BlockedFields []string
}

// DefaultBlindConfig matches spec.md §4.5's blind-evaluation fields:
// a blind assignment must never expose who argued, which institution
// they represent, or any contact detail.
func DefaultBlindConfig() BlindConfig {
	return BlindConfig{
		Enabled:       true,
		RedactionText: "[REDACTED]",
		BlockedFields: []string{
			"participant_name",
			"team_name",
			"user_id",
			"institution_id",
			"institution_name",
			"email",
			"faculty_id",
		},
	}
}

// BlindProjector produces the view a blind judge is allowed to see,
// stripping identity-bearing fields before the content reaches any
// judge-facing code path (spec.md §4.5: prepare_blind_view).
type BlindProjector struct {
	config BlindConfig
}

// NewBlindProjector constructs a BlindProjector from cfg.
func NewBlindProjector(cfg BlindConfig) *BlindProjector {
	if cfg.RedactionText == "" {
		cfg.RedactionText = "[REDACTED]"
	}
	return &BlindProjector{config: cfg}
}

// Project recursively strips blocked fields from view, matching the
// teacher's RedactMap traversal: maps recurse, slices of maps recurse,
// every other value passes through unchanged.
func (p *BlindProjector) Project(view map[string]interface{}) map[string]interface{} {
	if !p.config.Enabled {
		return view
	}

	result := make(map[string]interface{}, len(view))
	for k, v := range view {
		switch {
		case p.isBlockedField(k):
			result[k] = p.config.RedactionText
		case v == nil:
			result[k] = v
		default:
			switch val := v.(type) {
			case map[string]interface{}:
				result[k] = p.Project(val)
			case []interface{}:
				result[k] = p.projectSlice(val)
			default:
				result[k] = v
			}
		}
	}
	return result
}

func (p *BlindProjector) projectSlice(s []interface{}) []interface{} {
	result := make([]interface{}, len(s))
	for i, v := range s {
		if m, ok := v.(map[string]interface{}); ok {
			result[i] = p.Project(m)
		} else {
			result[i] = v
		}
	}
	return result
}

func (p *BlindProjector) isBlockedField(fieldName string) bool {
	lower := strings.ToLower(fieldName)
	for _, blocked := range p.config.BlockedFields {
		if lower == strings.ToLower(blocked) {
			return true
		}
	}
	return false
}

// PrepareBlindView implements prepare_blind_view: returns view unchanged
// for a non-blind assignment, or the projected, identity-stripped copy
// when the assignment is blind.
func PrepareBlindView(projector *BlindProjector, assignment Assignment, view map[string]interface{}) map[string]interface{} {
	if !assignment.IsBlind {
		return view
	}
	return projector.Project(view)
}
