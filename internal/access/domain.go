package access

// Role is the coarse role carried by an authenticated actor.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole maps a raw role claim onto the closed role set. Only the exact
// string "admin" yields RoleAdmin.
func ParseRole(raw string) Role {
	if raw == string(RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

// Feature names a capability area requested by a screen.
type Feature string

// PermissionKey is a flag in a user's permission document.
type PermissionKey string

// PermissionSet is a total map over the catalogue's permission keys.
type PermissionSet map[PermissionKey]bool

// Allows reports whether key is granted. Missing keys are denied.
func (s PermissionSet) Allows(key PermissionKey) bool {
	return s[key]
}

// Actor is the session-scoped identity evaluated by the Gate.
type Actor struct {
	ID          string        `json:"id"`
	Role        Role          `json:"role"`
	Permissions PermissionSet `json:"permissions"`
}

// IsAdmin reports whether the actor holds the admin super-role.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.Role == RoleAdmin
}

// ReasonCode explains a Decision.
type ReasonCode string

const (
	ReasonOK               ReasonCode = "ok"
	ReasonNotAuthenticated ReasonCode = "not_authenticated"
	ReasonRoleInsufficient ReasonCode = "role_insufficient"
	ReasonPermissionDenied ReasonCode = "permission_denied"
)

// Decision is the outcome of an evaluation.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
}

func allow() Decision {
	return Decision{Allowed: true, Reason: ReasonOK}
}

func deny(reason ReasonCode) Decision {
	return Decision{Allowed: false, Reason: reason}
}
