package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netmon/internal/models"
)

type stubUsers map[uint]*models.User

func (s stubUsers) UserByID(_ context.Context, id uint) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

func (s stubUsers) UserByAPIKey(_ context.Context, key string) (*models.User, error) {
	for _, u := range s {
		if u.ApiKey == key {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func newUser(id uint, role models.Role, active bool) *models.User {
	u := &models.User{Username: "user", Role: role, IsActive: active, ApiKey: "nm_key"}
	u.ID = id
	return u
}

func setupRouter(a *Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(a.Middleware())
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": CurrentUser(c).ID})
	})
	r.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func do(r http.Handler, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestToken_RoundTrip(t *testing.T) {
	a := New("secret", time.Minute, stubUsers{})
	token, err := a.GenerateToken(newUser(4, models.RoleUser, true))
	require.NoError(t, err)

	claims, err := a.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, uint(4), claims.UserID)
	assert.Equal(t, models.RoleUser, claims.Role)

	_, err = New("other", time.Minute, stubUsers{}).ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestToken_Expired(t *testing.T) {
	a := New("secret", time.Minute, stubUsers{})
	a.ttl = -time.Minute
	token, err := a.GenerateToken(newUser(4, models.RoleUser, true))
	require.NoError(t, err)

	_, err = a.ParseToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	users := stubUsers{
		1: newUser(1, models.RoleAdmin, true),
		2: newUser(2, models.RoleUser, false),
	}
	users[2].ApiKey = "nm_inactive"
	a := New("secret", time.Minute, users)
	r := setupRouter(a)

	adminToken, err := a.GenerateToken(users[1])
	require.NoError(t, err)
	inactiveToken, err := a.GenerateToken(users[2])
	require.NoError(t, err)
	ghostToken, err := a.GenerateToken(newUser(9, models.RoleUser, true))
	require.NoError(t, err)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		status  int
	}{
		{"no credentials", "/me", nil, http.StatusUnauthorized},
		{"bad token", "/me", map[string]string{"Authorization": "Bearer junk"}, http.StatusUnauthorized},
		{"valid token", "/me", map[string]string{"Authorization": "Bearer " + adminToken}, http.StatusOK},
		{"unknown user", "/me", map[string]string{"Authorization": "Bearer " + ghostToken}, http.StatusUnauthorized},
		{"inactive user", "/me", map[string]string{"Authorization": "Bearer " + inactiveToken}, http.StatusForbidden},
		{"api key", "/me", map[string]string{APIKeyHeader: "nm_key"}, http.StatusOK},
		{"bad api key", "/me", map[string]string{APIKeyHeader: "nope"}, http.StatusUnauthorized},
		{"admin route as admin", "/admin", map[string]string{"Authorization": "Bearer " + adminToken}, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, do(r, tt.path, tt.headers).Code)
		})
	}
}

func TestRequireRole_Denies(t *testing.T) {
	users := stubUsers{3: newUser(3, models.RoleViewer, true)}
	a := New("secret", time.Minute, users)
	token, err := a.GenerateToken(users[3])
	require.NoError(t, err)

	w := do(setupRouter(a), "/admin", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusForbidden, w.Code)
}
