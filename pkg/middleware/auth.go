package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/NizariMohamed/chatting/pkg/jwt"
	"github.com/NizariMohamed/chatting/pkg/response"
)

const (
	UserIDKey     = "user_id"
	EmailKey      = "email"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
	tokenQueryKey = "token"
)

// TokenVerifier verifies an access token and returns its claims.
type TokenVerifier interface {
	Validate(token string) (*jwt.Claims, error)
}

// AuthMiddleware validates JWT access tokens.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate verifies the token carried by r. The bearer header wins
// over the token query parameter, which browsers need for websockets.
func (m *AuthMiddleware) Authenticate(r *http.Request) (*jwt.Claims, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, jwt.ErrInvalidToken
	}
	return m.verifier.Validate(token)
}

// RequireAuth returns a Gin middleware that rejects unauthenticated requests.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if TokenFromRequest(c.Request) == "" {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing authorization token")
			return
		}

		claims, err := m.Authenticate(c.Request)
		if err != nil {
			response.Abort(c, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(EmailKey, claims.Email)
		c.Set(UsernameKey, claims.Username)

		c.Next()
	}
}

// TokenFromRequest extracts a bearer token from the Authorization header
// or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get(AuthHeaderKey); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, BearerPrefix))
	}
	return r.URL.Query().Get(tokenQueryKey)
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
