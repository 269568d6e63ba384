package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisBackend(client)
}

func TestRedisBackend_StoreAndGetCredential(t *testing.T) {
	ctx := context.Background()
	backend := newTestRedisBackend(t)

	ok, err := backend.StoreCredential(ctx, "", "cred-a", map[string]any{"refresh_token": "rt-a"})
	if err != nil || !ok {
		t.Fatalf("store failed: ok=%v err=%v", ok, err)
	}

	got, err := backend.GetCredential(ctx, "", "cred-a")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got["refresh_token"] != "rt-a" {
		t.Fatalf("unexpected credential: %+v", got)
	}
}

func TestRedisBackend_DuplicateRefreshTokenRejected(t *testing.T) {
	ctx := context.Background()
	backend := newTestRedisBackend(t)

	backend.StoreCredential(ctx, "", "cred-a", map[string]any{"refresh_token": "shared"})
	ok, err := backend.StoreCredential(ctx, "", "cred-b", map[string]any{"refresh_token": "shared"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected duplicate refresh token to be rejected")
	}
}

func TestRedisBackend_NamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend := newTestRedisBackend(t)

	backend.StoreCredential(ctx, "", "cred-a", map[string]any{"refresh_token": "rt-a"})
	backend.StoreCredential(ctx, "antigravity", "cred-a", map[string]any{"refresh_token": "rt-a"})

	normal, _ := backend.ListCredentials(ctx, "")
	anti, _ := backend.ListCredentials(ctx, "antigravity")
	if len(normal) != 1 || len(anti) != 1 {
		t.Fatalf("expected one credential per namespace, got normal=%v anti=%v", normal, anti)
	}
}

func TestRedisBackend_ConfigRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := newTestRedisBackend(t)

	if err := backend.SetConfig(ctx, "heartbeat_interval", float64(3)); err != nil {
		t.Fatalf("set config failed: %v", err)
	}
	v, ok := backend.GetConfig(ctx, "heartbeat_interval")
	if !ok || v != float64(3) {
		t.Fatalf("expected cached config value, got %v ok=%v", v, ok)
	}

	fresh := NewRedisBackend(backend.client)
	if err := fresh.ReloadConfigCache(ctx); err != nil {
		t.Fatalf("reload config cache failed: %v", err)
	}
	v2, ok := fresh.GetConfig(ctx, "heartbeat_interval")
	if !ok || v2 != float64(3) {
		t.Fatalf("expected reloaded config value, got %v ok=%v", v2, ok)
	}
}
