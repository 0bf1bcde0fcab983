package events

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/response"
)

// parseTime accepts RFC3339 timestamps and plain dates.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

// EventRequest is the body for POST /events and PUT /events/:id.
type EventRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Source      *string `json:"source"`
	Destination *string `json:"destination"`
	StartDate   *string `json:"start_date"`
	EndDate     *string `json:"end_date"`
}

func (r EventRequest) input() (Input, string) {
	in := Input{
		Name:        r.Name,
		Description: r.Description,
		Location:    r.Location,
		Source:      r.Source,
		Destination: r.Destination,
	}
	if r.StartDate != nil && *r.StartDate != "" {
		t, err := parseTime(*r.StartDate)
		if err != nil {
			return in, "invalid start_date"
		}
		in.StartDate = &t
	}
	if r.EndDate != nil && *r.EndDate != "" {
		t, err := parseTime(*r.EndDate)
		if err != nil {
			return in, "invalid end_date"
		}
		in.EndDate = &t
	}
	return in, ""
}

// Handler handles event HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an event handler.
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

func eventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}

// Create handles POST /events.
func (h *Handler) Create(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in, msg := req.input()
	if msg != "" {
		response.BadRequest(c, msg)
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ev, err := h.svc.Create(c.Request.Context(), userID, in)
	if err != nil {
		h.fail(c, "create event", err)
		return
	}
	response.Created(c, ev)
}

// List handles GET /events?status=.
func (h *Handler) List(c *gin.Context) {
	var status *models.EventStatus
	if s := c.Query("status"); s != "" {
		st := models.EventStatus(s)
		status = &st
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.svc.ListMine(c.Request.Context(), userID, status)
	if err != nil {
		h.fail(c, "list events", err)
		return
	}
	summaries := make([]models.EventSummary, 0, len(list))
	for i := range list {
		summaries = append(summaries, list[i].Summary())
	}
	response.OK(c, summaries)
}

// GetByID handles GET /events/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	d, err := h.svc.Get(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, "get event", err)
		return
	}
	response.OK(c, d)
}

// Update handles PUT /events/:id.
func (h *Handler) Update(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in, msg := req.input()
	if msg != "" {
		response.BadRequest(c, msg)
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ev, err := h.svc.Update(c.Request.Context(), id, userID, in)
	if err != nil {
		h.fail(c, "update event", err)
		return
	}
	response.OK(c, ev)
}

// Delete handles DELETE /events/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.svc.Delete(c.Request.Context(), id, userID); err != nil {
		h.fail(c, "delete event", err)
		return
	}
	response.NoContent(c)
}

// End handles POST /events/:id/end.
func (h *Handler) End(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ev, err := h.svc.End(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, "end event", err)
		return
	}
	response.OK(c, ev)
}

// Progress handles GET /events/:id/progress.
func (h *Handler) Progress(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	p, err := h.svc.Progress(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, "event progress", err)
		return
	}
	response.OK(c, p)
}

// Archive handles GET /events/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	url, err := h.svc.ArchiveURL(c.Request.Context(), id, userID)
	if err != nil {
		h.fail(c, "event archive", err)
		return
	}
	response.OK(c, gin.H{"url": url})
}
