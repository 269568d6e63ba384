package translator

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gcli2api-go/internal/common"
)

var finishReasonMap = map[string]string{
	"STOP":               "stop",
	"MAX_TOKENS":         "length",
	"SAFETY":             "content_filter",
	"RECITATION":         "content_filter",
	"OTHER":              "stop",
	"FINISH_REASON_UNSPECIFIED": "stop",
}

// MapFinishReason translates a Gemini finishReason into its closest
// OpenAI finish_reason, defaulting to "stop" for anything unrecognized.
func MapFinishReason(geminiReason string) string {
	if mapped, ok := finishReasonMap[geminiReason]; ok {
		return mapped
	}
	return "stop"
}

// ResponseToOpenAI converts a complete (non-streaming) Gemini
// generateContent response into an OpenAI chat.completion response.
func ResponseToOpenAI(geminiBody []byte, model string, created int64) ([]byte, error) {
	candidate := gjson.GetBytes(geminiBody, "candidates.0")
	content, reasoning, toolCalls := extractParts(candidate.Get("content.parts"))

	finishReason := MapFinishReason(candidate.Get("finishReason").String())

	if content == "" && len(toolCalls) == 0 {
		if reasoning != "" {
			content = common.ThinkingOnlyPlaceholder
		} else {
			content = common.EmptyResponsePlaceholder
		}
	}

	message := map[string]any{"role": "assistant"}
	if content != "" || len(toolCalls) == 0 {
		message["content"] = content
	} else {
		message["content"] = nil
	}
	if reasoning != "" {
		message["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		finishReason = "tool_calls"
	}

	resp := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason,
		}},
	}

	if usage := gjson.GetBytes(geminiBody, "usageMetadata"); usage.Exists() {
		resp["usage"] = map[string]any{
			"prompt_tokens":     usage.Get("promptTokenCount").Int(),
			"completion_tokens": usage.Get("candidatesTokenCount").Int(),
			"total_tokens":      usage.Get("totalTokenCount").Int(),
		}
	}

	out := []byte(`{}`)
	var err error
	for k, v := range resp {
		out, err = sjson.SetBytes(out, k, v)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ChunkToOpenAI converts a single Gemini streaming chunk (one SSE `data:`
// payload) into an OpenAI chat.completion.chunk payload. id and created
// are threaded through from the first chunk of the stream so every chunk
// in a response shares them, matching OpenAI's streaming contract.
func ChunkToOpenAI(geminiChunk []byte, model, id string, created int64) ([]byte, bool, error) {
	candidate := gjson.GetBytes(geminiChunk, "candidates.0")
	content, reasoning, toolCalls := extractParts(candidate.Get("content.parts"))

	delta := map[string]any{}
	if content != "" {
		delta["content"] = content
	}
	if reasoning != "" {
		delta["reasoning_content"] = reasoning
	}
	if len(toolCalls) > 0 {
		delta["tool_calls"] = toolCalls
	}

	rawFinish := candidate.Get("finishReason").String()
	done := rawFinish != ""

	choice := map[string]any{"index": 0, "delta": delta}
	if done {
		finish := MapFinishReason(rawFinish)
		if len(toolCalls) > 0 {
			finish = "tool_calls"
		}
		choice["finish_reason"] = finish
	} else {
		choice["finish_reason"] = nil
	}

	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   model,
		"choices": []map[string]any{choice},
	}

	out := []byte(`{}`)
	var err error
	for k, v := range chunk {
		out, err = sjson.SetBytes(out, k, v)
		if err != nil {
			return nil, false, err
		}
	}
	return out, done, nil
}

// extractParts splits a Gemini parts array into plain text, thought
// (reasoning) text, and function calls. Only the explicit `thought: true`
// flag is honored; heuristically guessing reasoning from prose is left to
// the model itself, not the translator.
func extractParts(parts gjson.Result) (content, reasoning string, toolCalls []map[string]any) {
	var contentBuf, reasoningBuf strings.Builder
	imageAdded := false

	for _, part := range parts.Array() {
		if fc := part.Get("functionCall"); fc.Exists() {
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   "call_" + randomToolCallID(),
				"type": "function",
				"function": map[string]any{
					"name":      fc.Get("name").String(),
					"arguments": args,
				},
			})
			continue
		}
		text := part.Get("text").String()
		if text == "" {
			if imageAdded {
				continue
			}
			if data := part.Get("inlineData"); data.Exists() {
				contentBuf.WriteString(inlineDataToMarkdown(data))
				imageAdded = true
			} else if file := part.Get("fileData"); file.Exists() {
				contentBuf.WriteString(fileDataToMarkdown(file))
				imageAdded = true
			}
			continue
		}
		if part.Get("thought").Bool() {
			reasoningBuf.WriteString(text)
		} else {
			contentBuf.WriteString(text)
		}
	}
	return contentBuf.String(), reasoningBuf.String(), toolCalls
}

// inlineDataToMarkdown renders a Gemini inlineData part as the Markdown
// image literal OpenAI clients expect, embedding the data URI directly.
func inlineDataToMarkdown(data gjson.Result) string {
	mime := data.Get("mimeType").String()
	payload := data.Get("data").String()
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "\n\n![image](data:" + mime + ";base64," + payload + ")"
}

// fileDataToMarkdown renders a Gemini fileData part (a hosted URI rather
// than inline bytes) as the same Markdown image literal.
func fileDataToMarkdown(file gjson.Result) string {
	uri := file.Get("fileUri").String()
	if uri == "" {
		return ""
	}
	return "\n\n![image](" + uri + ")"
}

func randomToolCallID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// NowUnix is a thin wrapper so callers don't need to import time directly
// just to stamp the `created` field.
func NowUnix() int64 { return time.Now().Unix() }
