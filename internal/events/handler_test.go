package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packpal/backend/internal/middleware"
	"github.com/packpal/backend/internal/models"
	"github.com/packpal/backend/pkg/response"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(f.svc, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-User"))
		if err != nil {
			response.Unauthorized(c, "missing user")
			c.Abort()
			return
		}
		c.Set(middleware.ContextUserID, id)
		c.Next()
	})
	r.POST("/events", h.Create)
	r.GET("/events", h.List)
	r.GET("/events/:id", h.GetByID)
	r.PUT("/events/:id", h.Update)
	r.POST("/events/:id/end", h.End)
	r.GET("/events/:id/progress", h.Progress)
	return r
}

func call(t *testing.T, r http.Handler, method, path string, user uuid.UUID, body any) (int, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user.String())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out response.Body
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w.Code, out
}

func TestHandlerEventLifecycle(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	code, body := call(t, r, http.MethodPost, "/events", f.owner, map[string]any{
		"name": "Lake trip", "start_date": "2026-07-10", "end_date": "2026-07-12",
	})
	require.Equal(t, http.StatusCreated, code)
	id := body.Data.(map[string]any)["id"].(string)
	assert.Equal(t, "planning", body.Data.(map[string]any)["status"])

	evID := uuid.MustParse(id)
	f.addItem(t, evID, models.ItemStatusPacked)
	f.addItem(t, evID, models.ItemStatusNotStarted)

	code, body = call(t, r, http.MethodGet, "/events/"+id+"/progress", f.owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 50, body.Data.(map[string]any)["percent"])

	code, body = call(t, r, http.MethodPost, "/events/"+id+"/end", f.owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ended", body.Data.(map[string]any)["status"])

	code, body = call(t, r, http.MethodPut, "/events/"+id, f.owner, map[string]any{"name": "Again"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "already_ended", body.Code)

	code, body = call(t, r, http.MethodGet, "/events?status=ended", f.owner, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Data, 1)
}

func TestHandlerEventValidation(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	code, _ := call(t, r, http.MethodPost, "/events", f.owner, map[string]any{"name": "Trip", "start_date": "next week"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := call(t, r, http.MethodPost, "/events", f.owner, map[string]any{"description": "no name"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "name_required", body.Code)

	code, _ = call(t, r, http.MethodGet, "/events/abc", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	ev := f.create(t)
	stranger := f.user(t, "s@example.com")
	code, body = call(t, r, http.MethodGet, "/events/"+ev.ID.String(), stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "not_member", body.Code)

	code, body = call(t, r, http.MethodGet, "/events?status=bogus", f.owner, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}
