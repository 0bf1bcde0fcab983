package models

// Role is a user's role with respect to one event.
// Roles are ordered owner > admin > member > viewer.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

var (
	// EditorRoles may mutate an event, its items and its ledger.
	EditorRoles = []Role{RoleOwner, RoleAdmin}
	// OwnerOnly is the capability set for owner-reserved actions.
	OwnerOnly = []Role{RoleOwner}
	// AnyRole admits every accepted member, including viewers.
	AnyRole = []Role{RoleOwner, RoleAdmin, RoleMember, RoleViewer}
)

// Rank returns the position of r in the role order; 0 for unknown roles.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleMember:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool { return r.Rank() > 0 }

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.Rank() >= min.Rank()
}

// Assignable reports whether r may be granted through an invite or role change.
// The owner role is only ever created together with its event.
func (r Role) Assignable() bool {
	return r.Valid() && r != RoleOwner
}

// In reports whether r is one of roles.
func (r Role) In(roles ...Role) bool {
	for _, want := range roles {
		if r == want {
			return true
		}
	}
	return false
}

// Requires builds a capability check for the given role set.
func Requires(roles ...Role) func(Role) bool {
	set := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return func(r Role) bool {
		_, ok := set[r]
		return ok
	}
}
