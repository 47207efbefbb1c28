package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	// RoleAdmin bypasses every role check.
	RoleAdmin = "admin"
	// RoleOperator runs the dispatcher by hand and inspects jobs and transcripts.
	RoleOperator = "operator"
	// RoleService is the signup/event trigger; it may only enqueue.
	RoleService = "service"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service issues tokens for.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleService:
		return true
	}
	return false
}
