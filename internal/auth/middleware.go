package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/music-room-server/pkg/jwt"
)

// ContextParticipantID is the gin context key holding the caller's id.
const ContextParticipantID = "participant_id"

type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Middleware rejects requests without a valid participant token. The token
// is read from the cookie, then the Authorization header, then the "token"
// query parameter used by browser websockets.
func Middleware(tokens TokenValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := extractToken(c, cookieName)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}

		claims, err := tokens.ValidateToken(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextParticipantID, claims.UserID)
		c.Next()
	}
}

func extractToken(c *gin.Context, cookieName string) string {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v
	}
	if h := c.GetHeader("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return c.Query("token")
}
