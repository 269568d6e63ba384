package oauth

import (
	"context"
	"testing"
)

func TestClient_RefreshRejectsEmptyToken(t *testing.T) {
	c := NewClient("client-id", "client-secret")
	_, _, err := c.Refresh(context.Background(), "")
	if err == nil {
		t.Fatalf("expected error for empty refresh token")
	}
}
