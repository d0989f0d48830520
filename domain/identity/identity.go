// Package identity defines the actor tuple every domain operation is
// invoked with. Authentication and role assignment themselves are external
// collaborators; this package only models the shape the core consumes and
// the institution-scoping checks that must fail closed on any cross-tenant
// access.
package identity

import "github.com/R3E-Network/moot-session-engine/internal/errs"

// Role is one of the labels the core recognizes. Finer-grained permission
// logic belongs to the external permissions collaborator.
type Role string

const (
	RoleStudent    Role = "STUDENT"
	RoleFaculty    Role = "FACULTY"
	RoleJudge      Role = "JUDGE"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Valid reports whether r is one of the recognized roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleFaculty, RoleJudge, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// IsFaculty reports whether r carries faculty-level authority. Admins and
// super-admins are treated as faculty-equivalent for transition gating,
// matching the "requires_faculty" precondition in the transition table.
func (r Role) IsFaculty() bool {
	return r == RoleFaculty || r == RoleAdmin || r == RoleSuperAdmin
}

// IsStudent reports whether r is the student role exactly; assignment
// requires this precisely, not a superset.
func (r Role) IsStudent() bool {
	return r == RoleStudent
}

// Actor is the (user_id, role, institution_id) tuple every operation in
// this module is invoked with.
type Actor struct {
	UserID        string
	Role          Role
	InstitutionID string
}

// RequireSameInstitution fails closed when actor and resourceInstitutionID
// disagree, or when resourceInstitutionID is empty (a resource with no
// tenant cannot be compared safely).
func RequireSameInstitution(actor Actor, resourceInstitutionID string) error {
	if resourceInstitutionID == "" || actor.InstitutionID != resourceInstitutionID {
		return errs.Forbidden("actor institution does not match resource institution")
	}
	return nil
}

// RequireFaculty fails with UNAUTHORIZED_ROLE unless actor carries
// faculty-equivalent authority.
func RequireFaculty(actor Actor) error {
	if !actor.Role.IsFaculty() {
		return errs.UnauthorizedRole("operation requires faculty authority")
	}
	return nil
}

// RequireStudent fails with UNAUTHORIZED_ROLE unless actor is exactly a
// student, per spec §4.2 assignment rules.
func RequireStudent(actor Actor) error {
	if !actor.Role.IsStudent() {
		return errs.UnauthorizedRole("operation requires the student role")
	}
	return nil
}

// SystemActor builds the synthetic actor used for internally-triggered
// operations (auto-advance, force-submit-on-expiry) that bypass the
// faculty/student gate by construction rather than by role check.
func SystemActor(institutionID string) Actor {
	return Actor{UserID: "system", Role: RoleAdmin, InstitutionID: institutionID}
}
