package models

import "testing"

func TestDecode_PlainBase(t *testing.T) {
	f := Decode("gemini-2.5-pro")
	if f.BaseName != "gemini-2.5-pro" {
		t.Fatalf("unexpected base name: %q", f.BaseName)
	}
	if f.Search || f.FakeStreaming || f.AntiTruncation || f.ThinkingBudget != nil {
		t.Fatalf("expected no flags decoded, got %+v", f)
	}
}

func TestDecode_SearchAndFakeStream(t *testing.T) {
	f := Decode("gemini-2.5-pro-search-fake-stream")
	if f.BaseName != "gemini-2.5-pro" {
		t.Fatalf("unexpected base name: %q", f.BaseName)
	}
	if !f.Search || !f.FakeStreaming {
		t.Fatalf("expected search+fake_streaming, got %+v", f)
	}
}

func TestDecode_ThinkingBudget(t *testing.T) {
	f := Decode("gemini-2.5-pro-thinking-1024")
	if f.BaseName != "gemini-2.5-pro" {
		t.Fatalf("unexpected base name: %q", f.BaseName)
	}
	if f.ThinkingBudget == nil || *f.ThinkingBudget != 1024 {
		t.Fatalf("expected thinking budget 1024, got %+v", f.ThinkingBudget)
	}
	if !f.IncludeThoughts {
		t.Fatalf("expected include_thoughts to be set")
	}
}

func TestDecode_AntiTruncation(t *testing.T) {
	f := Decode("gemini-2.5-pro-anti-trunc")
	if !f.AntiTruncation {
		t.Fatalf("expected anti_truncation, got %+v", f)
	}
	if f.BaseName != "gemini-2.5-pro" {
		t.Fatalf("unexpected base name: %q", f.BaseName)
	}
}

func TestDecode_UnrecognizedSuffixPassesThrough(t *testing.T) {
	f := Decode("gemini-2.5-pro-experimental")
	if f.BaseName != "gemini-2.5-pro-experimental" {
		t.Fatalf("unrecognized suffix should be kept, got %q", f.BaseName)
	}
}
