package credential

import (
	"context"
	"testing"
)

type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (string, int64, error) {
	f.calls++
	return "new-access-token", 9999999999, nil
}

func TestManager_EnsureFreshTokenRefreshesExpired(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	refresher := &fakeRefresher{}
	mgr := NewManager(backend, "", "", refresher, nil)

	if err := mgr.Pool.Load(ctx); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	mgr.Pool.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a", "expiry": int64(1)})

	c, _ := mgr.Pool.GetValidCredential(ctx, "gemini-2.5-pro")
	refreshed, err := mgr.EnsureFreshToken(ctx, c)
	if err != nil {
		t.Fatalf("ensure fresh token failed: %v", err)
	}
	if refreshed.AccessToken() != "new-access-token" {
		t.Fatalf("expected refreshed access token, got %q", refreshed.AccessToken())
	}
	if refresher.calls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refresher.calls)
	}
}

func TestManager_EnsureFreshTokenSkipsValid(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	refresher := &fakeRefresher{}
	mgr := NewManager(backend, "", "", refresher, nil)
	mgr.Pool.Load(ctx)
	mgr.Pool.Add(ctx, "cred-a", map[string]any{"refresh_token": "rt-a", "expiry": int64(9999999999)})

	c, _ := mgr.Pool.GetValidCredential(ctx, "gemini-2.5-pro")
	if _, err := mgr.EnsureFreshToken(ctx, c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refresher.calls != 0 {
		t.Fatalf("expected no refresh call for a valid token, got %d", refresher.calls)
	}
}
