// Package statemachine implements the data-driven transition table pattern
// used by every lifecycle in the engine (spec.md §4.3's session/round
// machines and §4.6's leaderboard governance lattice): a table of
// (from_state, to_state, trigger_type, requires_all_rounds_complete,
// requires_faculty) rows, checked in-process rather than re-derived ad hoc
// per aggregate.
package statemachine

// Transition is one allowed edge in a lifecycle's transition table.
type Transition struct {
	From                      string
	To                        string
	TriggerType               string
	RequiresAllRoundsComplete bool
	RequiresFaculty           bool
	// RequiresApprover gates a transition behind a separate "approver"
	// capability distinct from general faculty authority (spec.md §4.6:
	// finalizing a leaderboard snapshot requires this, moving it to
	// PENDING_APPROVAL only requires faculty).
	RequiresApprover bool
}

// Table is an ordered set of allowed transitions for one aggregate kind.
// Wildcard "*" in From matches any non-terminal state.
type Table struct {
	transitions []Transition
	terminal    map[string]bool
}

// NewTable builds a Table from transitions and the set of terminal states.
func NewTable(transitions []Transition, terminalStates []string) *Table {
	terminal := make(map[string]bool, len(terminalStates))
	for _, s := range terminalStates {
		terminal[s] = true
	}
	return &Table{transitions: transitions, terminal: terminal}
}

// IsTerminal reports whether state is terminal for this table.
func (t *Table) IsTerminal(state string) bool {
	return t.terminal[state]
}

// Lookup finds the transition row from -> to, honoring "*" wildcards for
// transitions allowed from any non-terminal state (e.g. CANCELLED).
func (t *Table) Lookup(from, to string) (Transition, bool) {
	for _, tr := range t.transitions {
		if tr.To != to {
			continue
		}
		if tr.From == from {
			return tr, true
		}
		if tr.From == "*" && !t.IsTerminal(from) {
			return tr, true
		}
	}
	return Transition{}, false
}

// AllowedNext returns every state reachable from from, for error messages
// like spec.md §8 scenario (b)'s allowed_next list.
func (t *Table) AllowedNext(from string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tr := range t.transitions {
		matches := tr.From == from || (tr.From == "*" && !t.IsTerminal(from))
		if matches && !seen[tr.To] {
			seen[tr.To] = true
			out = append(out, tr.To)
		}
	}
	return out
}
