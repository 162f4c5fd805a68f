package reservation

// Role is the caller's role as carried in the access token.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Actor identifies who performs an operation.  It is passed explicitly to
// every call instead of being read from shared state.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor may edit layouts.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
