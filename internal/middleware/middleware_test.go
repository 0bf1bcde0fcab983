package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/packpal/backend/internal/auth"
	"github.com/packpal/backend/internal/models"
)

type fakeAuthz struct {
	role models.Role
	err  error
}

func (f fakeAuthz) Authorize(_ context.Context, _, _ uuid.UUID, roles ...models.Role) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.role == "" {
		return false, nil
	}
	return f.role.In(roles...), nil
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtService := auth.NewJWTService("secret", 1)
	userID := uuid.New()
	token, err := jwtService.Generate(userID, "a@example.com", "member")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", JWT(jwtService), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c).String())
	})

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req.Header.Set("Authorization", "Token "+token)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, userID.String(), w.Body.String())
}

func TestRequireEventRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	route := func(authz Authorizer) *gin.Engine {
		r := gin.New()
		r.Use(func(c *gin.Context) { c.Set(ContextUserID, uuid.New()) })
		r.GET("/events/:id/items", RequireEventRole(authz, zap.NewNop(), models.EditorRoles...), func(c *gin.Context) {
			_, ok := c.Get(ContextEventID)
			assert.True(t, ok)
			c.Status(http.StatusOK)
		})
		return r
	}
	path := "/events/" + uuid.NewString() + "/items"

	cases := []struct {
		name  string
		authz fakeAuthz
		path  string
		want  int
	}{
		{"admin", fakeAuthz{role: models.RoleAdmin}, path, http.StatusOK},
		{"viewer", fakeAuthz{role: models.RoleViewer}, path, http.StatusForbidden},
		{"not a member", fakeAuthz{}, path, http.StatusForbidden},
		{"store down", fakeAuthz{err: errors.New("conn refused")}, path, http.StatusInternalServerError},
		{"bad id", fakeAuthz{role: models.RoleOwner}, "/events/x/items", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(route(tc.authz), httptest.NewRequest(http.MethodGet, tc.path, nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS([]string{"https://app.example.com"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", w.Header().Get("Vary"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggerUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(Logger(zap.New(core)))
	r.GET("/invites/:token", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/invites/secret-token", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := serve(r, req)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "/invites/:token", fields["route"])
	assert.Equal(t, "req-1", fields["request_id"])
	for _, v := range fields {
		assert.NotEqual(t, "secret-token", v)
	}
}
