package members

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
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
	h := NewHandler(f.ledger, nil)
	r := gin.New()
	r.GET("/invites/:token", h.GetInvite)
	r.POST("/invites/:token/accept", h.AcceptInvite)
	r.POST("/invites/:token/decline", h.DeclineInvite)

	api := r.Group("")
	api.Use(func(c *gin.Context) {
		id, err := uuid.Parse(c.GetHeader("X-User"))
		if err != nil {
			response.Unauthorized(c, "missing user")
			c.Abort()
			return
		}
		c.Set(middleware.ContextUserID, id)
		c.Next()
	})
	api.GET("/events/:id/members", h.List)
	api.POST("/events/:id/invites", h.InviteByToken)
	api.POST("/events/:id/invite", h.InviteDirect)
	api.PATCH("/events/:id/members/:memberId", h.ChangeRole)
	api.DELETE("/events/:id/members/:memberId", h.Remove)
	return r
}

func serve(t *testing.T, r http.Handler, req *http.Request) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out response.Body
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func do(t *testing.T, r http.Handler, method, path string, user uuid.UUID, body any) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", user.String())
	return serve(t, r, req)
}

// accept posts raw to the accept endpoint. A negative length sends the body
// without a Content-Length, as chunked clients do.
func accept(t *testing.T, r http.Handler, token, raw string, length int64) (*httptest.ResponseRecorder, response.Body) {
	t.Helper()
	var body io.Reader
	if raw != "" || length != 0 {
		body = strings.NewReader(raw)
	}
	req := httptest.NewRequest(http.MethodPost, "/invites/"+token+"/accept", body)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = length
	return serve(t, r, req)
}

func (f *fixture) pendingToken(t *testing.T, email string) string {
	t.Helper()
	res, err := f.ledger.Invite(f.ctx, f.event.ID, f.owner.ID, InviteInput{Email: email})
	require.NoError(t, err)
	return res.Token
}

func (f *fixture) ownerEntry(t *testing.T) *models.Membership {
	t.Helper()
	m, err := f.store.GetMembershipByEventUser(f.ctx, f.event.ID, f.owner.ID)
	require.NoError(t, err)
	return m
}

func results(t *testing.T, body response.Body) []map[string]any {
	t.Helper()
	data, ok := body.Data.(map[string]any)
	require.True(t, ok)
	raw, ok := data["results"].([]any)
	require.True(t, ok)
	out := make([]map[string]any, len(raw))
	for i, r := range raw {
		out[i] = r.(map[string]any)
	}
	return out
}

func TestHandlerInviteMergesAddressLists(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w, body := do(t, r, http.MethodPost, "/events/"+f.event.ID.String()+"/invites", f.owner.ID, map[string]any{
		"invites": []map[string]any{{"email": "ada@example.com", "role": "admin"}},
		"emails":  []string{"bo@example.com", "ADA@example.com", "not-an-email"},
		"role":    "viewer",
	})
	require.Equal(t, http.StatusOK, w.Code)

	out := results(t, body)
	require.Len(t, out, 4)

	assert.Equal(t, "ada@example.com", out[0]["email"])
	assert.Equal(t, OutcomeInvited, out[0]["status"])
	first := out[0]["result"].(map[string]any)
	assert.Equal(t, "admin", first["membership"].(map[string]any)["role"])
	assert.NotEmpty(t, first["token"])

	assert.Equal(t, OutcomeInvited, out[1]["status"])
	assert.Equal(t, "viewer", out[1]["result"].(map[string]any)["membership"].(map[string]any)["role"])

	assert.Equal(t, "ada@example.com", out[2]["email"])
	assert.Equal(t, OutcomeAlreadyInvited, out[2]["status"])
	assert.NotContains(t, out[2], "result")

	assert.Equal(t, OutcomeError, out[3]["status"])
	assert.Equal(t, "invalid_email", out[3]["code"])

	list, err := f.store.ListMembers(f.ctx, f.event.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestHandlerInviteDirectProvisionsAccount(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)

	w, body := do(t, r, http.MethodPost, "/events/"+f.event.ID.String()+"/invite", f.owner.ID, map[string]any{
		"emails": []string{"new@example.com"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	out := results(t, body)
	require.Len(t, out, 1)
	res := out[0]["result"].(map[string]any)
	assert.Equal(t, true, res["account_created"])
	assert.NotEmpty(t, res["temporary_password"])
	m := res["membership"].(map[string]any)
	assert.Equal(t, "accepted", m["invite_status"])
	assert.Equal(t, "member", m["role"])
}

func TestHandlerInviteRejectsWholeBatch(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	viewer := f.register(t, "v@example.com", "Vic")
	f.join(t, viewer, models.RoleViewer)
	path := "/events/" + f.event.ID.String() + "/invites"

	w, body := do(t, r, http.MethodPost, path, viewer.ID, map[string]any{"emails": []string{"x@example.com"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", body.Code)

	w, _ = do(t, r, http.MethodPost, path, f.owner.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.end(t)
	w, body = do(t, r, http.MethodPost, path, f.owner.ID, map[string]any{"emails": []string{"x@example.com"}})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_ended", body.Code)
}

func TestHandlerOwnerEntryIsProtected(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	owner := f.ownerEntry(t)
	path := "/events/" + f.event.ID.String() + "/members/" + owner.ID.String()

	w, body := do(t, r, http.MethodDelete, path, f.owner.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invalid_target", body.Code)

	w, body = do(t, r, http.MethodPatch, path, f.owner.ID, map[string]any{"role": "viewer"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "invalid_target", body.Code)

	w, body = do(t, r, http.MethodPatch, path, f.owner.ID, map[string]any{"role": "owner"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_role", body.Code)

	w, _ = do(t, r, http.MethodPatch, path, f.owner.ID, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = do(t, r, http.MethodDelete, "/events/"+f.event.ID.String()+"/members/nope", f.owner.ID, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerChangeRoleAndRemove(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	bo := f.register(t, "bo@example.com", "Bo")
	entry := f.join(t, bo, models.RoleMember)
	path := "/events/" + f.event.ID.String() + "/members/" + entry.ID.String()

	w, body := do(t, r, http.MethodPatch, path, f.owner.ID, map[string]any{"role": "admin"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "admin", body.Data.(map[string]any)["role"])

	w, _ = do(t, r, http.MethodDelete, path, f.owner.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, body = do(t, r, http.MethodGet, "/events/"+f.event.ID.String()+"/members", bo.ID, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not_member", body.Code)

	w, body = do(t, r, http.MethodGet, "/events/"+f.event.ID.String()+"/members", f.owner.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body.Data, 1)
}

func TestHandlerAcceptWithoutBody(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	f.register(t, "guest@example.com", "Gus")

	w, body := accept(t, r, f.pendingToken(t, "guest@example.com"), "", 0)
	require.Equal(t, http.StatusOK, w.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "accepted", data["membership"].(map[string]any)["invite_status"])
	assert.NotEmpty(t, data["token"])

	// No Content-Length and nothing to read.
	f.register(t, "chunked@example.com", "Cy")
	w, _ = accept(t, r, f.pendingToken(t, "chunked@example.com"), "", -1)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerAcceptCreatesAccount(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	token := f.pendingToken(t, "fresh@example.com")

	w, body := accept(t, r, token, "", 0)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "password_required", body.Code)

	w, _ = accept(t, r, token, "{", 1)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	raw := `{"first_name":"Fay","password":"secret1"}`
	w, body = accept(t, r, token, raw, int64(len(raw)))
	require.Equal(t, http.StatusOK, w.Code)
	user := body.Data.(map[string]any)["user"].(map[string]any)
	assert.Equal(t, "fresh@example.com", user["email"])
	assert.Equal(t, "Fay", user["first_name"])

	w, body = accept(t, r, token, "", 0)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "invite_not_found", body.Code)
}

func TestHandlerAcceptConflicts(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	token := f.pendingToken(t, "guest@example.com")

	// The invitee signs up, and the account already holds an entry in the
	// event under an older address.
	guest := f.register(t, "guest@example.com", "Gus")
	require.NoError(t, f.store.CreateMembership(f.ctx, &models.Membership{
		EventID:      f.event.ID,
		UserID:       &guest.ID,
		Role:         models.RoleMember,
		InviteEmail:  "gus.old@example.com",
		InviteStatus: models.InviteStatusAccepted,
	}))

	w, body := accept(t, r, token, "", 0)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_invited", body.Code)

	declined := f.pendingToken(t, "late@example.com")
	req := httptest.NewRequest(http.MethodPost, "/invites/"+declined+"/decline", nil)
	w, _ = serve(t, r, req)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = serve(t, r, httptest.NewRequest(http.MethodGet, "/invites/"+declined, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerGetInvite(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	token := f.pendingToken(t, "guest@example.com")

	w, body := serve(t, r, httptest.NewRequest(http.MethodGet, "/invites/"+token, nil))
	require.Equal(t, http.StatusOK, w.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "guest@example.com", data["email"])
	assert.Equal(t, f.event.Name, data["event_name"])
	assert.Equal(t, false, data["user_exists"])
}
