package items

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/response"
)

// ItemRequest is the body for POST /events/:id/items and PUT /items/:id.
type ItemRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Quantity     *string `json:"quantity"`
	CategoryID   *string `json:"category_id" binding:"omitempty,uuid"`
	Priority     *string `json:"priority"`
	IsShared     *bool   `json:"is_shared"`
	AssignedToID *string `json:"assigned_to_id" binding:"omitempty,uuid"`
}

func (r ItemRequest) input() Input {
	in := Input{
		Name:        r.Name,
		Description: r.Description,
		Quantity:    r.Quantity,
		Priority:    r.Priority,
		IsShared:    r.IsShared,
	}
	if r.CategoryID != nil {
		if id, err := uuid.Parse(*r.CategoryID); err == nil {
			in.CategoryID = &id
		}
	}
	if r.AssignedToID != nil {
		if id, err := uuid.Parse(*r.AssignedToID); err == nil {
			in.AssignedToID = &id
		}
	}
	return in
}

// StatusRequest is the body for PUT /items/:id/status.
type StatusRequest struct {
	Status models.ItemStatus `json:"status" binding:"required"`
}

// Handler handles item HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an item handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	response.LogError(h.logger, op, err)
	response.Error(c, err)
}

func paramID(c *gin.Context, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid "+label)
		return uuid.Nil, false
	}
	return id, true
}

// ListByEvent handles GET /events/:id/items.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, ok := paramID(c, "event id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListByEvent(c.Request.Context(), eventID, userID)
	if err != nil {
		h.fail(c, "list items", err)
		return
	}
	response.OK(c, list)
}

// Create handles POST /events/:id/items.
func (h *Handler) Create(c *gin.Context) {
	eventID, ok := paramID(c, "event id")
	if !ok {
		return
	}
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	it, err := h.svc.Create(c.Request.Context(), eventID, userID, req.input())
	if err != nil {
		h.fail(c, "create item", err)
		return
	}
	response.Created(c, it)
}

// GetByID handles GET /items/:id.
func (h *Handler) GetByID(c *gin.Context) {
	itemID, ok := paramID(c, "item id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	it, err := h.svc.Get(c.Request.Context(), itemID, userID)
	if err != nil {
		h.fail(c, "get item", err)
		return
	}
	response.OK(c, it)
}

// Update handles PUT /items/:id.
func (h *Handler) Update(c *gin.Context) {
	itemID, ok := paramID(c, "item id")
	if !ok {
		return
	}
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	it, err := h.svc.Update(c.Request.Context(), itemID, userID, req.input())
	if err != nil {
		h.fail(c, "update item", err)
		return
	}
	response.OK(c, it)
}

// UpdateStatus handles PUT /items/:id/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	itemID, ok := paramID(c, "item id")
	if !ok {
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "status required")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	res, err := h.svc.UpdateStatus(c.Request.Context(), itemID, userID, req.Status)
	if err != nil {
		h.fail(c, "update item status", err)
		return
	}
	response.OK(c, res)
}

// Delete handles DELETE /items/:id.
func (h *Handler) Delete(c *gin.Context) {
	itemID, ok := paramID(c, "item id")
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.Delete(c.Request.Context(), itemID, userID); err != nil {
		h.fail(c, "delete item", err)
		return
	}
	response.NoContent(c)
}
