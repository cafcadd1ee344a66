package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ChandlerPotter/go-auth/internal/token"
)

const (
	AccessTokenCookie = "access_token"

	ContextUserID = "user_id"
	ContextRole   = "role"
)

// JWTAuthMiddleware requires a valid access token, taken from the
// Authorization header or the access_token cookie, and stores its claims in
// the gin context.
func JWTAuthMiddleware(tokens token.AccessTokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		signed := bearerToken(c.GetHeader("Authorization"))
		if signed == "" {
			signed, _ = c.Cookie(AccessTokenCookie)
		}
		if signed == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing access token"})
			return
		}

		claims, err := tokens.Verify(signed)
		if err != nil {
			msg := "invalid access token"
			if errors.Is(err, token.ErrAccessTokenExpired) {
				msg = "access token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, value, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(value)
}

// UserID returns the authenticated user set by JWTAuthMiddleware.
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id != 0
}
