package members

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/response"
)

// Handler handles membership and invite HTTP endpoints.
type Handler struct {
	ledger *Ledger
	logger *zap.Logger
}

// NewHandler creates a members handler.
func NewHandler(ledger *Ledger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: ledger, logger: logger}
}

// InviteRequest is the body for POST /events/:id/invites and /events/:id/invite.
// Either Invites or Emails (all with Role) must be given.
type InviteRequest struct {
	Invites []InviteInput `json:"invites"`
	Emails  []string      `json:"emails"`
	Role    models.Role   `json:"role"`
}

func (r InviteRequest) inputs() []InviteInput {
	out := append([]InviteInput(nil), r.Invites...)
	for _, e := range r.Emails {
		out = append(out, InviteInput{Email: e, Role: r.Role})
	}
	return out
}

// ChangeRoleRequest is the body for PATCH /events/:id/members/:memberId.
type ChangeRoleRequest struct {
	Role models.Role `json:"role" binding:"required"`
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	response.LogError(h.logger, op, err)
	response.Error(c, err)
}

func parseID(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.BadRequest(c, "invalid "+label)
		return uuid.Nil, false
	}
	return id, true
}

// List handles GET /events/:id/members.
func (h *Handler) List(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.ledger.List(c.Request.Context(), eventID, userID)
	if err != nil {
		h.fail(c, "list members", err)
		return
	}
	if list == nil {
		list = []models.MemberView{}
	}
	response.OK(c, list)
}

// InviteByToken handles POST /events/:id/invites. Each invitee gets a pending
// entry and an invite link.
func (h *Handler) InviteByToken(c *gin.Context) {
	h.inviteBatch(c, InviteModeToken)
}

// InviteDirect handles POST /events/:id/invite. Invitees join immediately.
func (h *Handler) InviteDirect(c *gin.Context) {
	h.inviteBatch(c, InviteModeDirect)
}

func (h *Handler) inviteBatch(c *gin.Context, mode InviteMode) {
	eventID, ok := parseID(c, "id", "event id")
	if !ok {
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	outcomes, err := h.ledger.InviteBatch(c.Request.Context(), eventID, userID, req.inputs(), mode)
	if err != nil {
		h.fail(c, "invite", err)
		return
	}
	response.OK(c, gin.H{"results": outcomes})
}

// ChangeRole handles PATCH /events/:id/members/:memberId.
func (h *Handler) ChangeRole(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event id")
	if !ok {
		return
	}
	memberID, ok := parseID(c, "memberId", "member id")
	if !ok {
		return
	}
	var req ChangeRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "role required")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	m, err := h.ledger.ChangeRole(c.Request.Context(), eventID, userID, memberID, req.Role)
	if err != nil {
		h.fail(c, "change role", err)
		return
	}
	response.OK(c, m)
}

// Remove handles DELETE /events/:id/members/:memberId.
func (h *Handler) Remove(c *gin.Context) {
	eventID, ok := parseID(c, "id", "event id")
	if !ok {
		return
	}
	memberID, ok := parseID(c, "memberId", "member id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.ledger.Remove(c.Request.Context(), eventID, userID, memberID); err != nil {
		h.fail(c, "remove member", err)
		return
	}
	response.NoContent(c)
}

// GetInvite handles GET /invites/:token. Public.
func (h *Handler) GetInvite(c *gin.Context) {
	d, err := h.ledger.GetInvite(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, "get invite", err)
		return
	}
	response.OK(c, d)
}

// AcceptInvite handles POST /invites/:token/accept. Public; the body is only
// needed when the invitee has no account yet.
func (h *Handler) AcceptInvite(c *gin.Context) {
	var setup *CredentialSetup
	if c.Request.ContentLength != 0 {
		var body CredentialSetup
		err := c.ShouldBindJSON(&body)
		switch {
		case err == nil:
			setup = &body
		case !errors.Is(err, io.EOF):
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	res, err := h.ledger.AcceptInvite(c.Request.Context(), c.Param("token"), setup)
	if err != nil {
		h.fail(c, "accept invite", err)
		return
	}
	response.OK(c, res)
}

// DeclineInvite handles POST /invites/:token/decline. Public.
func (h *Handler) DeclineInvite(c *gin.Context) {
	m, err := h.ledger.DeclineInvite(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, "decline invite", err)
		return
	}
	response.OK(c, m)
}
