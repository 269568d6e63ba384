package translator

import (
	"testing"

	"github.com/tidwall/gjson"

	"gcli2api-go/internal/models"
)

func TestRequestToGemini_FoldsSystemMessage(t *testing.T) {
	body := []byte(`{
		"model": "gemini-2.5-pro",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"}
		]
	}`)

	out, err := RequestToGemini(body, models.Features{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if sys := gjson.GetBytes(out, "systemInstruction.parts.0.text").String(); sys != "be terse" {
		t.Fatalf("expected system instruction folded, got %q", sys)
	}
	contents := gjson.GetBytes(out, "contents").Array()
	if len(contents) != 1 {
		t.Fatalf("expected one content entry (system excluded), got %d", len(contents))
	}
	if contents[0].Get("role").String() != "user" {
		t.Fatalf("expected user role, got %q", contents[0].Get("role").String())
	}
}

func TestRequestToGemini_ClampsTopK(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":"hi"}],"top_k":200}`)
	out, err := RequestToGemini(body, models.Features{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k := gjson.GetBytes(out, "generationConfig.topK").Int(); k != 64 {
		t.Fatalf("expected topK clamped to 64, got %d", k)
	}
}

func TestRequestToGemini_CompatibilityModeFoldsSystemIntoUserContents(t *testing.T) {
	body := []byte(`{
		"messages": [
			{"role": "system", "content": "S1"},
			{"role": "system", "content": "S2"},
			{"role": "user", "content": "U"}
		]
	}`)

	out, err := RequestToGemini(body, models.Features{}, Options{CompatibilityMode: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gjson.GetBytes(out, "systemInstruction").Exists() {
		t.Fatalf("expected no systemInstruction in compatibility mode")
	}
	contents := gjson.GetBytes(out, "contents").Array()
	if len(contents) != 3 {
		t.Fatalf("expected 3 content entries, got %d", len(contents))
	}
	for i, c := range contents {
		if c.Get("role").String() != "user" {
			t.Fatalf("entry %d: expected role user, got %q", i, c.Get("role").String())
		}
	}
}

func TestRequestToGemini_ThinkingBudget(t *testing.T) {
	budget := 1024
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)
	out, err := RequestToGemini(body, models.Features{ThinkingBudget: &budget, IncludeThoughts: true}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b := gjson.GetBytes(out, "generationConfig.thinkingConfig.thinkingBudget").Int(); b != 1024 {
		t.Fatalf("expected thinking budget 1024, got %d", b)
	}
}

func TestRequestToGemini_MapsPenaltiesCandidateCountSeedAndJSONMode(t *testing.T) {
	body := []byte(`{
		"messages": [{"role": "user", "content": "hi"}],
		"frequency_penalty": 0.4,
		"presence_penalty": 0.6,
		"n": 2,
		"seed": 42,
		"response_format": {"type": "json_object"}
	}`)

	out, err := RequestToGemini(body, models.Features{}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := gjson.GetBytes(out, "generationConfig.frequencyPenalty").Float(); v != 0.4 {
		t.Fatalf("expected frequencyPenalty 0.4, got %v", v)
	}
	if v := gjson.GetBytes(out, "generationConfig.presencePenalty").Float(); v != 0.6 {
		t.Fatalf("expected presencePenalty 0.6, got %v", v)
	}
	if v := gjson.GetBytes(out, "generationConfig.candidateCount").Int(); v != 2 {
		t.Fatalf("expected candidateCount 2, got %v", v)
	}
	if v := gjson.GetBytes(out, "generationConfig.seed").Int(); v != 42 {
		t.Fatalf("expected seed 42, got %v", v)
	}
	if v := gjson.GetBytes(out, "generationConfig.responseMimeType").String(); v != "application/json" {
		t.Fatalf("expected responseMimeType application/json, got %q", v)
	}
}

func TestRequestToGemini_AlwaysAttachesSafetySettings(t *testing.T) {
	body := []byte(`{"messages": [{"role": "user", "content": "hi"}]}`)
	settings := []map[string]any{{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"}}

	out, err := RequestToGemini(body, models.Features{}, Options{SafetySettings: settings})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := gjson.GetBytes(out, "safetySettings.0.category").String()
	if got != "HARM_CATEGORY_HARASSMENT" {
		t.Fatalf("expected safetySettings attached, got %q", got)
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{
		"STOP":       "stop",
		"MAX_TOKENS": "length",
		"SAFETY":     "content_filter",
		"RECITATION": "content_filter",
		"UNKNOWN_X":  "stop",
	}
	for in, want := range cases {
		if got := MapFinishReason(in); got != want {
			t.Errorf("MapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResponseToOpenAI_ExtractsThoughtsSeparately(t *testing.T) {
	body := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"text": "thinking...", "thought": true},
				{"text": "final answer"}
			]},
			"finishReason": "STOP"
		}]
	}`)

	out, err := ResponseToOpenAI(body, "gemini-2.5-pro", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := gjson.GetBytes(out, "choices.0.message.content").String()
	reasoning := gjson.GetBytes(out, "choices.0.message.reasoning_content").String()
	if content != "final answer" {
		t.Fatalf("unexpected content: %q", content)
	}
	if reasoning != "thinking..." {
		t.Fatalf("unexpected reasoning: %q", reasoning)
	}
}

func TestResponseToOpenAI_FunctionCallSetsToolCallsFinishReason(t *testing.T) {
	body := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"functionCall": {"name": "get_weather", "args": {"city": "nyc"}}}
			]},
			"finishReason": "STOP"
		}]
	}`)

	out, err := ResponseToOpenAI(body, "gemini-2.5-pro", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fr := gjson.GetBytes(out, "choices.0.finish_reason").String(); fr != "tool_calls" {
		t.Fatalf("expected tool_calls finish reason, got %q", fr)
	}
	name := gjson.GetBytes(out, "choices.0.message.tool_calls.0.function.name").String()
	if name != "get_weather" {
		t.Fatalf("unexpected tool call name: %q", name)
	}
}

func TestResponseToOpenAI_InlineImageBecomesMarkdown(t *testing.T) {
	body := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"inlineData": {"mimeType": "image/png", "data": "Zm9v"}}
			]},
			"finishReason": "STOP"
		}]
	}`)

	out, err := ResponseToOpenAI(body, "gemini-2.5-pro", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := gjson.GetBytes(out, "choices.0.message.content").String()
	if content != "\n\n![image](data:image/png;base64,Zm9v)" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestResponseToOpenAI_FileDataBecomesMarkdownLink(t *testing.T) {
	body := []byte(`{
		"candidates": [{
			"content": {"parts": [
				{"fileData": {"mimeType": "image/png", "fileUri": "https://example.com/a.png"}}
			]},
			"finishReason": "STOP"
		}]
	}`)

	out, err := ResponseToOpenAI(body, "gemini-2.5-pro", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	content := gjson.GetBytes(out, "choices.0.message.content").String()
	if content != "\n\n![image](https://example.com/a.png)" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestChunkToOpenAI_MarksDoneOnFinishReason(t *testing.T) {
	mid := []byte(`{"candidates":[{"content":{"parts":[{"text":"partial"}]}}]}`)
	_, done, err := ChunkToOpenAI(mid, "gemini-2.5-pro", "chatcmpl-1", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("expected mid-stream chunk to not be done")
	}

	final := []byte(`{"candidates":[{"content":{"parts":[{"text":"tail"}]},"finishReason":"STOP"}]}`)
	_, done, err = ChunkToOpenAI(final, "gemini-2.5-pro", "chatcmpl-1", 1700000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatalf("expected final chunk to be done")
	}
}
