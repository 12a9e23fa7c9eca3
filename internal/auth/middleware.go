package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/netmon/internal/models"
)

var ErrInvalidToken = errors.New("invalid token")

const (
	APIKeyHeader = "X-API-Key"

	ctxUser   = "user"
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// UserStore looks up the users behind tokens and API keys.
type UserStore interface {
	UserByID(ctx context.Context, id uint) (*models.User, error)
	UserByAPIKey(ctx context.Context, key string) (*models.User, error)
}

type Claims struct {
	UserID uint        `json:"user_id"`
	Role   models.Role `json:"role"`
	jwt.StandardClaims
}

// Authenticator issues and verifies HS256 tokens and guards routes.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	users  UserStore
}

func New(secret string, ttl time.Duration, users UserStore) *Authenticator {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, users: users}
}

// TTL is the lifetime of issued tokens.
func (a *Authenticator) TTL() time.Duration {
	return a.ttl
}

func (a *Authenticator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Role,
		StandardClaims: jwt.StandardClaims{
			Subject:   user.Username,
			ExpiresAt: now.Add(a.ttl).Unix(),
			IssuedAt:  now.Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) ParseToken(raw string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !tkn.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Middleware authenticates the request with either a bearer token or an
// X-API-Key header and stores the user in the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, status, msg := a.authenticate(c)
		if user == nil {
			c.JSON(status, gin.H{"error": msg})
			c.Abort()
			return
		}

		if !user.IsActive {
			c.JSON(http.StatusForbidden, gin.H{"error": "user is inactive"})
			c.Abort()
			return
		}

		c.Set(ctxUser, user)
		c.Set(ctxUserID, user.ID)
		c.Set(ctxRole, string(user.Role))
		c.Next()
	}
}

func (a *Authenticator) authenticate(c *gin.Context) (*models.User, int, string) {
	ctx := c.Request.Context()

	if key := c.GetHeader(APIKeyHeader); key != "" {
		user, err := a.users.UserByAPIKey(ctx, key)
		if err != nil {
			return nil, http.StatusUnauthorized, "invalid api key"
		}
		return user, 0, ""
	}

	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, http.StatusUnauthorized, "authorization header required"
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

	claims, err := a.ParseToken(raw)
	if err != nil {
		return nil, http.StatusUnauthorized, "invalid token"
	}

	user, err := a.users.UserByID(ctx, claims.UserID)
	if err != nil {
		return nil, http.StatusUnauthorized, "user not found"
	}
	return user, 0, ""
}

func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole := c.GetString(ctxRole)
		for _, role := range roles {
			if string(role) == userRole {
				c.Next()
				return
			}
		}
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		c.Abort()
	}
}

// CurrentUser returns the user stored by Middleware.
func CurrentUser(c *gin.Context) *models.User {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil
	}
	user, _ := v.(*models.User)
	return user
}
