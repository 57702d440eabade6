package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/models"
)

// Context keys and headers for the caller identity injected by the gateway.
const (
	ActorIDKey   = "actor_id"
	ActorRoleKey = "actor_role"

	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// maxActorIDLen bounds the identity header to keep logs and labels sane.
const maxActorIDLen = 255

var knownRoles = []string{models.ActorUser, models.ActorAdmin, models.ActorSystem}

// Actor reads the caller identity set by the trusted gateway. Requests
// without an identity are rejected with 401. A missing role defaults to user.
func Actor(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(ActorIDHeader))
		if id == "" || len(id) > maxActorIDLen {
			respondError(c, http.StatusUnauthorized, "unauthorized", "missing or invalid actor identity")

			return
		}

		role := strings.ToLower(strings.TrimSpace(c.GetHeader(ActorRoleHeader)))
		if role == "" {
			role = models.ActorUser
		}

		if !slices.Contains(knownRoles, role) {
			log.WithFields(logrus.Fields{
				"actor_id": id,
				"role":     role,
				"path":     c.Request.URL.Path,
			}).Warn("rejected unknown actor role")
			respondError(c, http.StatusUnauthorized, "unauthorized", "unknown actor role")

			return
		}

		c.Set(ActorIDKey, id)
		c.Set(ActorRoleKey, role)
		c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles with 403.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !slices.Contains(roles, c.GetString(ActorRoleKey)) {
			respondError(c, http.StatusForbidden, "forbidden", "insufficient role")

			return
		}

		c.Next()
	}
}

// ActorID returns the authenticated caller's ID.
func ActorID(c *gin.Context) string { return c.GetString(ActorIDKey) }

// ActorRole returns the authenticated caller's role.
func ActorRole(c *gin.Context) string { return c.GetString(ActorRoleKey) }
