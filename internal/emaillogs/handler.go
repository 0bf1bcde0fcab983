package emaillogs

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/apperr"
	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/internal/store"
	"github.com/packpal/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	store  store.Querier
	logger *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(st store.Querier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, logger: logger}
}

// ListByEvent handles GET /events/:id/emails. Returns invite mail delivery logs, newest first.
// Call after RequireEventRole(owner, admin) so access is already validated.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, ok := c.Get(middleware.ContextEventID)
	if !ok {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid event id")
			return
		}
		eventID = id
	}
	logs, err := h.store.ListEmailLogs(c.Request.Context(), eventID.(uuid.UUID))
	if err != nil {
		err = apperr.Unavailable("list email logs", err)
		response.LogError(h.logger, "list email logs", err)
		response.Error(c, err)
		return
	}
	if logs == nil {
		logs = []models.EmailLog{}
	}
	response.OK(c, logs)
}
