package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// AdminTokenHeader carries the shared administrative token.
	AdminTokenHeader = "X-Admin-Token"
	// AdminActorHeader optionally names the operator performing an admin action.
	AdminActorHeader = "X-Admin-Actor"
	// ActorKey is the gin context key holding the admin actor.
	ActorKey = "actor"

	defaultActor = "admin"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAdminToken guards administrative routes with a static token. An empty token
// disables the check, which is only meant for local development.
func RequireAdminToken(token string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(token))

	return func(c *gin.Context) {
		if len(expected) > 0 {
			provided := []byte(strings.TrimSpace(c.GetHeader(AdminTokenHeader)))
			if len(provided) == 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, newErrorResponse(c, "missing admin token"))
				return
			}
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				c.AbortWithStatusJSON(http.StatusForbidden, newErrorResponse(c, "invalid admin token"))
				return
			}
		}

		actor := strings.TrimSpace(c.GetHeader(AdminActorHeader))
		if actor == "" {
			actor = defaultActor
		}
		c.Set(ActorKey, actor)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.Actor = actor
		}

		c.Next()
	}
}

// GetActor returns the admin actor recorded by RequireAdminToken.
func GetActor(c *gin.Context) string {
	if actor, ok := c.Get(ActorKey); ok {
		if s, ok := actor.(string); ok {
			return s
		}
	}
	return defaultActor
}
