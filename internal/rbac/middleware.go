package rbac

import (
	"net/http"

	"outbound-orchestrator/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireAnyRole admits callers holding one of allowed. Admin is always
// admitted; roles outside Known are refused even when listed.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	permitted := make(map[string]bool, len(allowed))
	for _, r := range allowed {
		permitted[r] = Known(r)
	}

	return func(c *gin.Context) {
		role := auth.Role(c.Request.Context())
		switch {
		case role == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
		case IsAdmin(role) || permitted[role]:
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "role": role})
		}
	}
}
