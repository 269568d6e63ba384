package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw)
	r.GET("/v1/chat/completions", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestUnifiedAuth_MissingCredentialsReturns401(t *testing.T) {
	r := newTestRouter(UnifiedAuth(AuthConfig{Password: "secret"}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestUnifiedAuth_WrongPasswordReturns403(t *testing.T) {
	r := newTestRouter(UnifiedAuth(AuthConfig{Password: "secret"}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestUnifiedAuth_CorrectBearerPasses(t *testing.T) {
	r := newTestRouter(UnifiedAuth(AuthConfig{Password: "secret"}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUnifiedAuth_QueryKeyPasses(t *testing.T) {
	r := newTestRouter(UnifiedAuth(AuthConfig{Password: "secret"}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions?key=secret", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestUnifiedAuth_EmptyPasswordSkipsCheck(t *testing.T) {
	r := newTestRouter(UnifiedAuth(AuthConfig{Password: ""}))
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 when no password configured, got %d", w.Code)
	}
}
