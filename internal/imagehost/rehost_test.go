package imagehost

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRehostDataURIs_ReplacesMatchWithHostedURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"image":{"url":"https://cdn.example.com/img.png"}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, APIKey: "key", UploadURL: srv.URL})
	content := "here is your image\n\n![image](data:image/png;base64,aGVsbG8=)\nmore text"

	got := RehostDataURIs(context.Background(), c, content)
	want := "here is your image\n\n![image](https://cdn.example.com/img.png)\nmore text"
	if got != want {
		t.Fatalf("unexpected content: %q", got)
	}
}

func TestRehostDataURIs_LeavesMarkdownUntouchedWhenUploadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":400}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, APIKey: "key", UploadURL: srv.URL})
	content := "![image](data:image/png;base64,aGVsbG8=)"

	if got := RehostDataURIs(context.Background(), c, content); got != content {
		t.Fatalf("expected unchanged content on upload failure, got %q", got)
	}
}

func TestRehostDataURIs_DisabledClientLeavesContentUnchanged(t *testing.T) {
	c := NewClient(Config{Enabled: false})
	content := "![image](data:image/png;base64,aGVsbG8=)"

	if got := RehostDataURIs(context.Background(), c, content); got != content {
		t.Fatalf("expected unchanged content when disabled, got %q", got)
	}
}

func TestRehostDataURIs_NoMatchLeavesContentUnchanged(t *testing.T) {
	c := NewClient(Config{Enabled: true, APIKey: "key"})
	content := "no images here"

	if got := RehostDataURIs(context.Background(), c, content); got != content {
		t.Fatalf("expected unchanged content, got %q", got)
	}
}
