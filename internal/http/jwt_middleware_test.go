package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"socialauth/internal/service"
)

type verifierFunc func(string) (service.SessionClaims, bool)

func (f verifierFunc) VerifySession(token string) (service.SessionClaims, bool) { return f(token) }

func newProtectedRouter(verifier SessionVerifier) *gin.Engine {
	r := gin.New()
	r.GET("/protected", SessionAuthMiddleware(verifier, "session"), func(c *gin.Context) {
		claims, ok := GetAuthClaims(c)
		if !ok || claims.UserID != "u1" {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestSessionAuthMiddleware_AllowsValidAccessToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tokens := service.NewTokenService("secret", nil, service.TokenOptions{AccessTTL: 15 * time.Minute})
	token, err := tokens.Sign(service.SessionClaims{UserID: "u1", Email: "user@example.com"}, 0)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	verifier := verifierFunc(tokens.Verify)

	for name, header := range map[string][2]string{
		"bearer": {"Authorization", "Bearer " + token},
		"lower":  {"Authorization", "bearer " + token},
		"cookie": {"Cookie", "session=" + token},
	} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set(header[0], header[1])
		rec := httptest.NewRecorder()
		newProtectedRouter(verifier).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", name, rec.Code)
		}
	}
}

func TestSessionAuthMiddleware_RejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := verifierFunc(func(string) (service.SessionClaims, bool) { return service.SessionClaims{}, false })

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	newProtectedRouter(verifier).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSessionAuthMiddleware_RejectsInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	verifier := verifierFunc(func(string) (service.SessionClaims, bool) { return service.SessionClaims{}, false })

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	newProtectedRouter(verifier).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
