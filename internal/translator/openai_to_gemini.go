// Package translator converts request and response bodies between the
// OpenAI chat-completions wire format and the Gemini generateContent
// format (§4.C). Conversion reads raw JSON via gjson and writes it via
// sjson rather than through typed structs; each output body is built
// fresh and carries only the fields the translator maps.
package translator

import (
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gcli2api-go/internal/common"
	"gcli2api-go/internal/models"
)

// Options controls request-shaping behavior that depends on process
// configuration rather than the request body itself.
type Options struct {
	// CompatibilityMode disables systemInstruction folding for backends
	// that reject it, instead passing system messages through as
	// ordinary user-role turns (§8 scenario 3).
	CompatibilityMode bool
	// SafetySettings is attached to every outgoing request unconditionally
	// (§4.C: "Always attach the configured safetySettings").
	SafetySettings []map[string]any
}

// RequestToGemini converts an OpenAI chat-completions request body into a
// Gemini generateContent request body, folding the leading run of system
// messages into systemInstruction (later system messages, and all of them
// under Options.CompatibilityMode, become user-role turns) and
// applying the feature flags decoded from the model name (thinking
// budget, search grounding).
func RequestToGemini(openaiBody []byte, features models.Features, opts Options) ([]byte, error) {
	out := `{}`
	var err error

	messages := gjson.GetBytes(openaiBody, "messages").Array()
	var systemParts []string
	var contents []map[string]any

	seenNonSystem := false
	for _, msg := range messages {
		role := msg.Get("role").String()
		isSystem := role == "system" || role == "developer"
		if isSystem && !opts.CompatibilityMode && !seenNonSystem {
			if text := msg.Get("content").String(); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}
		if isSystem {
			contents = append(contents, map[string]any{
				"role":  "user",
				"parts": []map[string]any{{"text": msg.Get("content").String()}},
			})
			continue
		}
		seenNonSystem = true
		contents = append(contents, messageToContent(msg))
	}

	if len(contents) == 0 {
		contents = append(contents, map[string]any{
			"role":  "user",
			"parts": []map[string]any{{"text": common.EmptySystemPlaceholder}},
		})
	}

	outBytes := []byte(out)
	if len(systemParts) > 0 {
		outBytes, err = sjson.SetBytes(outBytes, "systemInstruction.parts.0.text", strings.Join(systemParts, "\n\n"))
		if err != nil {
			return nil, err
		}
	}

	outBytes, err = sjson.SetBytes(outBytes, "contents", contents)
	if err != nil {
		return nil, err
	}

	genConfig := map[string]any{}
	if v := gjson.GetBytes(openaiBody, "temperature"); v.Exists() {
		genConfig["temperature"] = v.Float()
	}
	if v := gjson.GetBytes(openaiBody, "top_p"); v.Exists() {
		genConfig["topP"] = v.Float()
	}
	maxTokens := gjson.GetBytes(openaiBody, "max_tokens")
	if !maxTokens.Exists() {
		maxTokens = gjson.GetBytes(openaiBody, "max_completion_tokens")
	}
	if maxTokens.Exists() {
		tokens := maxTokens.Int()
		if tokens > 65535 {
			tokens = 65535
		}
		genConfig["maxOutputTokens"] = tokens
	}
	if v := gjson.GetBytes(openaiBody, "stop"); v.Exists() {
		genConfig["stopSequences"] = stopSequences(v)
	}
	if v := gjson.GetBytes(openaiBody, "frequency_penalty"); v.Exists() {
		genConfig["frequencyPenalty"] = v.Float()
	}
	if v := gjson.GetBytes(openaiBody, "presence_penalty"); v.Exists() {
		genConfig["presencePenalty"] = v.Float()
	}
	if v := gjson.GetBytes(openaiBody, "n"); v.Exists() {
		genConfig["candidateCount"] = v.Int()
	}
	if v := gjson.GetBytes(openaiBody, "seed"); v.Exists() {
		genConfig["seed"] = v.Int()
	}
	if gjson.GetBytes(openaiBody, "response_format.type").String() == "json_object" {
		genConfig["responseMimeType"] = "application/json"
	}
	// Always 64 regardless of any client-supplied top_k (§8 clamp rule).
	genConfig["topK"] = 64

	if features.ThinkingBudget != nil {
		genConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget":  *features.ThinkingBudget,
			"includeThoughts": features.IncludeThoughts,
		}
	}

	if len(genConfig) > 0 {
		outBytes, err = sjson.SetBytes(outBytes, "generationConfig", genConfig)
		if err != nil {
			return nil, err
		}
	}

	if tools := gjson.GetBytes(openaiBody, "tools"); tools.Exists() {
		outBytes, err = sjson.SetRawBytes(outBytes, "tools", []byte(toolsToGemini(tools)))
		if err != nil {
			return nil, err
		}
	}

	if features.Search {
		outBytes, err = sjson.SetRawBytes(outBytes, "tools.-1", []byte(`{"googleSearch":{}}`))
		if err != nil {
			return nil, err
		}
	}

	outBytes, err = sjson.SetBytes(outBytes, "safetySettings", opts.SafetySettings)
	if err != nil {
		return nil, err
	}

	return outBytes, nil
}

func stopSequences(v gjson.Result) []string {
	if v.IsArray() {
		var out []string
		for _, item := range v.Array() {
			out = append(out, item.String())
		}
		return out
	}
	return []string{v.String()}
}

func messageToContent(msg gjson.Result) map[string]any {
	role := msg.Get("role").String()
	geminiRole := "user"
	if role == "assistant" {
		geminiRole = "model"
	}

	var parts []map[string]any

	if toolCalls := msg.Get("tool_calls"); toolCalls.Exists() {
		for _, call := range toolCalls.Array() {
			parts = append(parts, map[string]any{
				"functionCall": map[string]any{
					"name": call.Get("function.name").String(),
					"args": gjson.Parse(call.Get("function.arguments").String()).Value(),
				},
			})
		}
	}

	if role == "tool" {
		parts = append(parts, map[string]any{
			"functionResponse": map[string]any{
				"name": msg.Get("name").String(),
				"response": map[string]any{
					"result": msg.Get("content").Value(),
				},
			},
		})
		return map[string]any{"role": "function", "parts": parts}
	}

	content := msg.Get("content")
	if content.IsArray() {
		for _, part := range content.Array() {
			parts = append(parts, contentPartToGemini(part))
		}
	} else if content.Exists() && content.String() != "" {
		parts = append(parts, map[string]any{"text": content.String()})
	}

	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	return map[string]any{"role": geminiRole, "parts": parts}
}

func contentPartToGemini(part gjson.Result) map[string]any {
	partType := part.Get("type").String()
	switch partType {
	case "text":
		return map[string]any{"text": part.Get("text").String()}
	case "image_url":
		url := part.Get("image_url.url").String()
		if strings.HasPrefix(url, "data:") {
			mime, data := splitDataURI(url)
			return map[string]any{
				"inlineData": map[string]any{"mimeType": mime, "data": data},
			}
		}
		return map[string]any{
			"fileData": map[string]any{"fileUri": url},
		}
	default:
		return map[string]any{"text": part.Raw}
	}
}

func splitDataURI(uri string) (mime, data string) {
	rest := strings.TrimPrefix(uri, "data:")
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return "application/octet-stream", rest
	}
	header := rest[:comma]
	data = rest[comma+1:]
	mime = strings.TrimSuffix(header, ";base64")
	return mime, data
}

func toolsToGemini(tools gjson.Result) string {
	var decls []string
	for _, tool := range tools.Array() {
		if tool.Get("type").String() != "function" {
			continue
		}
		fn := tool.Get("function")
		decl, _ := sjson.Set(`{}`, "name", fn.Get("name").String())
		decl, _ = sjson.Set(decl, "description", fn.Get("description").String())
		if params := fn.Get("parameters"); params.Exists() {
			decl, _ = sjson.SetRaw(decl, "parameters", params.Raw)
		}
		decls = append(decls, decl)
	}
	if len(decls) == 0 {
		return `[]`
	}
	return `[{"functionDeclarations":[` + strings.Join(decls, ",") + `]}]`
}
