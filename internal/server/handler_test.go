package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"gcli2api-go/internal/config"
	"gcli2api-go/internal/credential"
	"gcli2api-go/internal/events"
	"gcli2api-go/internal/models"
	"gcli2api-go/internal/storage"
	"gcli2api-go/internal/upstream/gemini"
)

func newTestDeps(t *testing.T, backendURL string) *Deps {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.BaseURL = backendURL
	cfg.Backend.MaxRetries = 0
	cfg.Streaming.HeartbeatInterval = 50 * time.Millisecond

	backend := storage.NewFileBackend(t.TempDir())
	pool := credential.NewPool(backend, "")
	ok, err := pool.Add(context.Background(), "cred-1.json", map[string]any{
		"access_token":  "token-1",
		"refresh_token": "refresh-1",
		"expiry":        time.Now().Add(time.Hour).Unix(),
	})
	if err != nil || !ok {
		t.Fatalf("seed credential: ok=%v err=%v", ok, err)
	}

	mgr := &credential.Manager{Pool: pool}
	client := gemini.NewClient(backendURL, 5*time.Second)
	client.MaxRetries = 0

	return &Deps{
		Config:       cfg,
		Backend:      client,
		SuffixConfig: models.DefaultSuffixConfig(),
		Hub:          events.NewHub(),
		Normal:       Namespace{Name: "", Manager: mgr},
		Antigravity:  Namespace{Name: "antigravity", Manager: mgr},
	}
}

func TestChatCompletions_HealthCheckShortCircuit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t, "http://unused.invalid")
	engine := NewEngine(deps)

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"Hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	content := gjson.GetBytes(w.Body.Bytes(), "choices.0.message.content").String()
	if content != "gcli2api正常工作中" {
		t.Errorf("unexpected health check reply: %q", content)
	}
}

func TestListModels_OpenAIShapeUnderBearer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t, "http://unused.invalid")
	engine := NewEngine(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !gjson.GetBytes(w.Body.Bytes(), "data").IsArray() {
		t.Fatalf("expected OpenAI-shaped {data:[...]} body, got %s", w.Body.String())
	}
}

func TestListModels_GeminiShapeWithKeyQueryParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t, "http://unused.invalid")
	engine := NewEngine(deps)

	req := httptest.NewRequest(http.MethodGet, "/v1/models?key=anything", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !gjson.GetBytes(w.Body.Bytes(), "models").IsArray() {
		t.Fatalf("expected Gemini-shaped {models:[...]} body, got %s", w.Body.String())
	}
}

func TestChatCompletions_UnaryHappyPath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"parts": [{"text": "hello there"}]},
				"finishReason": "STOP"
			}]
		}`))
	}))
	defer backend.Close()

	deps := newTestDeps(t, backend.URL)
	engine := NewEngine(deps)

	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi there"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	content := gjson.GetBytes(w.Body.Bytes(), "choices.0.message.content").String()
	if content != "hello there" {
		t.Errorf("expected translated content %q, got %q", "hello there", content)
	}
}

func TestChatCompletions_NoCredentialsAvailable(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDeps(t, "http://unused.invalid")
	deps.Normal.Manager.Pool = credential.NewPool(storage.NewFileBackend(t.TempDir()), "")

	engine := NewEngine(deps)
	body := `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi there"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
}
