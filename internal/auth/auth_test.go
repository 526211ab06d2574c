package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-room-server/pkg/jwt"
	"github.com/music-room-server/pkg/models"
)

type fakeParticipants map[string]*models.Participant

func (f fakeParticipants) GetParticipant(_ context.Context, id string) (*models.Participant, error) {
	if p, ok := f[id]; ok {
		return p, nil
	}
	return nil, errors.New("not found")
}

func newRouter(t *testing.T) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := jwt.NewManager("test-secret", time.Hour)
	participants := fakeParticipants{"user-1": {ID: "user-1", DisplayName: "Alice"}}

	r := gin.New()
	v1 := r.Group("/api/v1")
	NewHandler(tokens, participants, "auth_token", false).RegisterRoutes(v1)
	v1.GET("/whoami", Middleware(tokens, "auth_token"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextParticipantID))
	})
	return r, tokens
}

func TestMiddleware_TokenSources(t *testing.T) {
	r, tokens := newRouter(t)
	token, err := tokens.GenerateToken("user-1")
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{
			name:   "cookie",
			setup:  func(req *http.Request) { req.AddCookie(&http.Cookie{Name: "auth_token", Value: token}) },
			status: http.StatusOK,
		},
		{
			name:   "bearer header",
			setup:  func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) },
			status: http.StatusOK,
		},
		{
			name:   "query parameter",
			setup:  func(req *http.Request) { req.URL.RawQuery = "token=" + token },
			status: http.StatusOK,
		},
		{
			name:   "missing",
			setup:  func(*http.Request) {},
			status: http.StatusUnauthorized,
		},
		{
			name:   "invalid",
			setup:  func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") },
			status: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "user-1", w.Body.String())
			}
		})
	}
}

func TestHandler_Me(t *testing.T) {
	r, tokens := newRouter(t)

	known, _ := tokens.GenerateToken("user-1")
	unknown, _ := tokens.GenerateToken("ghost")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+known)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"display_name":"Alice"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+unknown)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RefreshAndLogout(t *testing.T) {
	r, tokens := newRouter(t)
	token, _ := tokens.GenerateToken("user-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	claims, err := tokens.ValidateToken(cookies[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	cookies = w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.Less(t, cookies[0].MaxAge, 0)
}
