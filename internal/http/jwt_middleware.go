package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"socialauth/internal/service"
)

const authClaimsKey = "auth_claims"

// SessionVerifier valida tokens de sesion.
type SessionVerifier interface {
	VerifySession(token string) (service.SessionClaims, bool)
}

// SessionAuthMiddleware acepta el token por header Authorization: Bearer y, si no viene,
// por la cookie de sesion. Guarda los claims en el contexto.
func SessionAuthMiddleware(verifier SessionVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if verifier == nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && cookieName != "" {
			if v, err := c.Cookie(cookieName); err == nil {
				token = strings.TrimSpace(v)
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, ok := verifier.VerifySession(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(authClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// GetAuthClaims obtiene los claims de sesion desde el contexto.
func GetAuthClaims(c *gin.Context) (service.SessionClaims, bool) {
	val, ok := c.Get(authClaimsKey)
	if !ok {
		return service.SessionClaims{}, false
	}
	claims, ok := val.(service.SessionClaims)
	return claims, ok
}
