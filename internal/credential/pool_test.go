package credential

import (
	"context"
	"testing"

	"gcli2api-go/internal/storage"
)

// memBackend is a minimal in-process storage.Backend for pool tests.
type memBackend struct {
	creds  map[string]map[string]any
	config map[string]any
}

func newMemBackend() *memBackend {
	return &memBackend{creds: make(map[string]map[string]any), config: make(map[string]any)}
}

func (m *memBackend) Initialize(ctx context.Context) error { return nil }
func (m *memBackend) Close() error                         { return nil }
func (m *memBackend) Health(ctx context.Context) error      { return nil }

func (m *memBackend) GetCredential(ctx context.Context, namespace, filename string) (map[string]any, error) {
	v, ok := m.creds[filename]
	if !ok {
		return nil, &storage.ErrNotFound{Key: filename}
	}
	return v, nil
}

func (m *memBackend) ListCredentials(ctx context.Context, namespace string) ([]string, error) {
	names := make([]string, 0, len(m.creds))
	for k := range m.creds {
		names = append(names, k)
	}
	return names, nil
}

func (m *memBackend) StoreCredential(ctx context.Context, namespace, filename string, data map[string]any) (bool, error) {
	rt, _ := data["refresh_token"].(string)
	if rt != "" {
		for name, rec := range m.creds {
			if name == filename {
				continue
			}
			if existing, _ := rec["refresh_token"].(string); existing == rt {
				return false, nil
			}
		}
	}
	m.creds[filename] = data
	return true, nil
}

func (m *memBackend) DeleteCredential(ctx context.Context, namespace, filename string) error {
	delete(m.creds, filename)
	return nil
}

func (m *memBackend) UpdateCredentialState(ctx context.Context, namespace, filename string, state map[string]any) error {
	rec, ok := m.creds[filename]
	if !ok {
		return nil
	}
	for k, v := range state {
		rec[k] = v
	}
	return nil
}

func (m *memBackend) SetModelCooldown(ctx context.Context, namespace, filename, modelKey string, until int64) error {
	return nil
}

func (m *memBackend) GetCredentialsSummary(ctx context.Context, namespace string, filter storage.CredentialsSummaryFilter) (storage.CredentialsSummary, error) {
	return storage.CredentialsSummary{}, nil
}

func (m *memBackend) GetConfig(ctx context.Context, key string) (any, bool) {
	v, ok := m.config[key]
	return v, ok
}
func (m *memBackend) SetConfig(ctx context.Context, key string, value any) error {
	m.config[key] = value
	return nil
}
func (m *memBackend) DeleteConfig(ctx context.Context, key string) error {
	delete(m.config, key)
	return nil
}
func (m *memBackend) ReloadConfigCache(ctx context.Context) error { return nil }

func TestPool_AddAndGetValidCredential(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	p := NewPool(backend, "")

	ok, err := p.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a"})
	if err != nil || !ok {
		t.Fatalf("add failed: ok=%v err=%v", ok, err)
	}

	c, ok := p.GetValidCredential(ctx, "gemini-2.5-pro")
	if !ok || c.Filename != "cred-a" {
		t.Fatalf("expected cred-a to be selected, got %+v ok=%v", c, ok)
	}
}

func TestPool_DuplicateRefreshTokenRejected(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	p := NewPool(backend, "")

	if ok, _ := p.Add(ctx, "cred-a", map[string]any{"refresh_token": "shared"}); !ok {
		t.Fatalf("first add should succeed")
	}
	if ok, _ := p.Add(ctx, "cred-b", map[string]any{"refresh_token": "shared"}); ok {
		t.Fatalf("duplicate refresh token should be rejected")
	}
	if p.Len() != 1 {
		t.Fatalf("expected only one credential tracked, got %d", p.Len())
	}
}

func TestPool_CooldownExcludesCredential(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	p := NewPool(backend, "")
	p.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a"})

	p.RecordError(ctx, "cred-a", 429, "gemini-2.5-pro")

	if _, ok := p.GetValidCredential(ctx, "gemini-2.5-pro"); ok {
		t.Fatalf("expected no credential available during cooldown")
	}
	if _, ok := p.GetValidCredential(ctx, "gemini-2.5-flash"); !ok {
		t.Fatalf("cooldown should be scoped to the model key")
	}
}

func TestPool_AutoDisableAfterTrailingFatalErrors(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	p := NewPool(backend, "")
	p.AutoDisableWindow = 3
	p.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a"})

	p.RecordError(ctx, "cred-a", 401, "gemini-2.5-pro")
	p.RecordError(ctx, "cred-a", 403, "gemini-2.5-pro")
	if _, ok := p.GetValidCredential(ctx, "gemini-2.5-pro"); !ok {
		t.Fatalf("should still be enabled before the window fills")
	}
	p.RecordError(ctx, "cred-a", 401, "gemini-2.5-pro")

	if _, ok := p.GetValidCredential(ctx, "gemini-2.5-pro"); ok {
		t.Fatalf("expected credential to be auto-disabled")
	}
}

func TestPool_SuccessClearsErrorHistory(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	p := NewPool(backend, "")
	p.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a"})

	p.RecordError(ctx, "cred-a", 401, "gemini-2.5-pro")
	p.RecordSuccess(ctx, "cred-a")

	snap := p.Snapshot()
	if len(snap) != 1 || len(snap[0].ErrorCodes) != 0 {
		t.Fatalf("expected error history cleared after success, got %+v", snap)
	}
}
