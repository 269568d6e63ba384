package imagehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_UploadDataURI_Disabled(t *testing.T) {
	c := NewClient(Config{Enabled: false})
	if u := c.UploadDataURI(context.Background(), "data:image/png;base64,aGVsbG8="); u != "" {
		t.Fatalf("expected empty url when disabled, got %q", u)
	}
}

func TestClient_UploadDataURI_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"image":{"url":"https://cdn.example.com/img.png"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, APIKey: "key", UploadURL: srv.URL})
	u := c.UploadDataURI(context.Background(), "data:image/png;base64,aGVsbG8=")
	if u != "https://cdn.example.com/img.png" {
		t.Fatalf("unexpected url: %q", u)
	}
}

func TestClient_UploadDataURI_NoURLInResponseReturnsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":400}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, APIKey: "key", UploadURL: srv.URL})
	if u := c.UploadDataURI(context.Background(), "data:image/png;base64,aGVsbG8="); u != "" {
		t.Fatalf("expected empty url, got %q", u)
	}
}

func TestClient_UploadDataURI_MalformedURIReturnsEmpty(t *testing.T) {
	c := NewClient(Config{Enabled: true, APIKey: "key"})
	if u := c.UploadDataURI(context.Background(), "not-a-data-uri"); u != "" {
		t.Fatalf("expected empty url for malformed input, got %q", u)
	}
}
