package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/response"
)

// ContextEventID is the key for the parsed :id event parameter.
const ContextEventID = "event_id"

// Authorizer answers whether a user holds one of roles on an event.
type Authorizer interface {
	Authorize(ctx context.Context, eventID, userID uuid.UUID, roles ...models.Role) (bool, error)
}

// RequireEventRole returns a middleware that allows only accepted members of
// the :id event holding one of roles. Must run after JWT.
func RequireEventRole(authz Authorizer, logger *zap.Logger, roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userVal, ok := c.Get(ContextUserID)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		eventID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid event id")
			c.Abort()
			return
		}
		allowed, err := authz.Authorize(c.Request.Context(), eventID, userVal.(uuid.UUID), roles...)
		if err != nil {
			response.LogError(logger, "authorize", err)
			response.Error(c, err)
			c.Abort()
			return
		}
		if !allowed {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Set(ContextEventID, eventID)
		c.Next()
	}
}
