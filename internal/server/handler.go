package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"gcli2api-go/internal/common"
	"gcli2api-go/internal/credential"
	apperrors "gcli2api-go/internal/errors"
	"gcli2api-go/internal/httpformat"
	"gcli2api-go/internal/imagehost"
	"gcli2api-go/internal/models"
	"gcli2api-go/internal/streaming"
	"gcli2api-go/internal/translator"
)

// handler serves one namespace's /models and /chat/completions routes,
// sharing the translator, backend client and streaming pipeline with the
// other namespace but keeping a distinct credential pool.
type handler struct {
	deps      *Deps
	namespace string
}

// listModels serves GET /models: OpenAI-shaped under bearer auth,
// Gemini-shaped when called with only a `?key=` query parameter (§6).
func (h *handler) listModels(c *gin.Context) {
	base := models.DefaultBaseModels()
	variants := models.GenerateVariantsForModels(base)

	if c.Query("key") != "" && c.GetHeader("Authorization") == "" {
		items := make([]any, 0, len(variants))
		for _, m := range variants {
			items = append(items, gin.H{
				"name":                       "models/" + m,
				"baseModelId":                m,
				"displayName":                m,
				"description":                "Gemini model: " + m,
				"inputTokenLimit":            1048576,
				"outputTokenLimit":           65535,
				"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
			})
		}
		c.JSON(http.StatusOK, gin.H{"models": items})
		return
	}

	items := make([]any, 0, len(variants))
	for _, m := range variants {
		items = append(items, gin.H{"id": m, "object": "model", "owned_by": "google"})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": items})
}

// chatCompletions serves POST /chat/completions: the health-check
// short-circuit, credential selection, request translation, dispatch to
// fake streaming, anti-truncation (streamed or unary), direct streaming
// or a plain unary call, and credential outcome bookkeeping
// (§4.H).
func (h *handler) chatCompletions(c *gin.Context) {
	raw, err := readBody(c)
	if err != nil {
		respondChatError(c, http.StatusBadRequest, "invalid_request_error", "invalid json body")
		return
	}

	if isHealthCheck(raw) {
		c.JSON(http.StatusOK, healthCheckCompletion(gjson.GetBytes(raw, "model").String()))
		return
	}

	raw = normalizeRequest(raw)

	modelName := gjson.GetBytes(raw, "model").String()
	features := models.DecodeWithConfig(modelName, h.deps.SuffixConfig)
	stream := gjson.GetBytes(raw, "stream").Bool()

	ns := h.deps.namespace(h.namespace)
	ctx := c.Request.Context()

	cred, ok := ns.Manager.Pool.GetValidCredential(ctx, features.BaseName)
	if !ok {
		respondChatError(c, http.StatusInternalServerError, "no_credentials", "no credentials available")
		return
	}
	cred, err = ns.Manager.EnsureFreshToken(ctx, cred)
	if err != nil {
		respondChatError(c, http.StatusInternalServerError, "token_refresh_failed", "failed to refresh credential")
		return
	}

	geminiPayload, err := translator.RequestToGemini(raw, features, translator.Options{
		CompatibilityMode: h.deps.Config.Translator.CompatibilityMode,
		SafetySettings:    h.deps.Config.Translator.SafetySettings,
	})
	if err != nil {
		respondChatError(c, http.StatusInternalServerError, "translation_failed", "failed to translate request")
		return
	}

	created := time.Now().Unix()
	completionID := "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]

	switch {
	case stream && features.FakeStreaming:
		h.serveFakeStream(c, ns, cred, features, geminiPayload, completionID, created)
	case stream && features.AntiTruncation:
		h.serveAntiTruncationStream(c, ns, cred, features, geminiPayload, completionID, created)
	case stream:
		h.serveDirectStream(c, ns, cred, features, geminiPayload, completionID, created)
	case features.AntiTruncation:
		h.serveAntiTruncationUnary(c, ns, cred, features, geminiPayload, modelName, created)
	default:
		h.serveUnary(c, ns, cred, features, geminiPayload, modelName, created)
	}
}

func (h *handler) serveUnary(c *gin.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte, modelName string, created int64) {
	ctx := c.Request.Context()
	cred, body, status, err, exhausted := h.retryBackendCall(ctx, ns, cred, features, func(ctx context.Context, cred *credential.Credential) ([]byte, int, error) {
		return h.deps.Backend.GenerateContent(ctx, cred.AccessToken(), features.BaseName, payload)
	})
	if exhausted {
		h.recordOutcome(ctx, ns, cred, features, status, err)
		respondNoCredentials(c)
		return
	}
	if err != nil || status >= 400 {
		h.recordOutcome(ctx, ns, cred, features, status, err)
		respondUpstreamError(c, status, body, err)
		return
	}
	ns.Manager.Pool.RecordSuccess(ctx, cred.Filename)

	out, err := translator.ResponseToOpenAI(body, modelName, created)
	if err != nil {
		respondChatError(c, http.StatusInternalServerError, "translation_failed", "failed to translate response")
		return
	}
	out = rehostResponseContent(ctx, h.deps.ImageHost, out)
	c.Data(http.StatusOK, "application/json", out)
}

func (h *handler) serveAntiTruncationUnary(c *gin.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte, modelName string, created int64) {
	ctx := c.Request.Context()
	text, reason, cred, exhausted, err := h.runAntiTruncation(ctx, ns, cred, features, payload)
	if exhausted {
		h.recordOutcome(ctx, ns, cred, features, 0, err)
		respondNoCredentials(c)
		return
	}
	if err != nil {
		h.recordOutcome(ctx, ns, cred, features, 0, err)
		if se, ok := err.(*upstreamStatusError); ok {
			respondUpstreamError(c, se.status, se.body, nil)
		} else {
			respondUpstreamError(c, 0, nil, err)
		}
		return
	}
	ns.Manager.Pool.RecordSuccess(ctx, cred.Filename)

	text = rehostResponseContentString(ctx, h.deps.ImageHost, text)

	c.JSON(http.StatusOK, gin.H{
		"id":      "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24],
		"object":  "chat.completion",
		"created": created,
		"model":   modelName,
		"choices": []gin.H{{
			"index":         0,
			"message":       gin.H{"role": "assistant", "content": text},
			"finish_reason": translator.MapFinishReason(reason),
		}},
	})
}

func (h *handler) serveFakeStream(c *gin.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte, completionID string, created int64) {
	ctx := c.Request.Context()
	w := c.Writer
	prepareSSE(w)

	interval := h.deps.Config.Streaming.HeartbeatInterval
	var exhausted bool
	result := streaming.RunFakeStream(ctx, interval, func(ctx context.Context) ([]byte, int, error) {
		var body []byte
		var status int
		var err error
		cred, body, status, err, exhausted = h.retryBackendCall(ctx, ns, cred, features, func(ctx context.Context, cred *credential.Credential) ([]byte, int, error) {
			return h.deps.Backend.GenerateContent(ctx, cred.AccessToken(), features.BaseName, payload)
		})
		return body, status, err
	}, func() {
		_ = streaming.WriteSSE(w, streaming.HeartbeatChunk(features.BaseName, completionID, created))
		w.Flush()
	})

	if exhausted {
		h.recordOutcome(ctx, ns, cred, features, result.Status, result.Err)
		writeSSENoCredentials(w, c)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}
	if result.Err != nil || result.Status >= 400 {
		h.recordOutcome(ctx, ns, cred, features, result.Status, result.Err)
		writeSSEError(w, c, result.Status, result.Body, result.Err)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}
	ns.Manager.Pool.RecordSuccess(ctx, cred.Filename)

	chunk, _, err := translator.ChunkToOpenAI(result.Body, features.BaseName, completionID, created)
	if err == nil {
		if !gjson.ValidBytes(result.Body) {
			chunk, _ = sjson.SetBytes(chunk, "choices.0.delta.content", string(result.Body))
			chunk, _ = sjson.SetBytes(chunk, "choices.0.finish_reason", "stop")
		} else if !gjson.GetBytes(chunk, "choices.0.delta.content").Exists() &&
			gjson.GetBytes(chunk, "choices.0.delta.reasoning_content").Exists() {
			chunk, _ = sjson.SetBytes(chunk, "choices.0.delta.content", common.ThinkingOnlyPlaceholder)
		}
		chunk = rehostChunkContent(ctx, h.deps.ImageHost, chunk)
		_ = streaming.WriteSSE(w, chunk)
	}
	_ = streaming.WriteDone(w)
	w.Flush()
}

func (h *handler) serveAntiTruncationStream(c *gin.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte, completionID string, created int64) {
	ctx := c.Request.Context()
	w := c.Writer
	prepareSSE(w)

	text, reason, cred, exhausted, err := h.runAntiTruncation(ctx, ns, cred, features, payload)
	if exhausted {
		h.recordOutcome(ctx, ns, cred, features, 0, err)
		writeSSENoCredentials(w, c)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}
	if err != nil {
		h.recordOutcome(ctx, ns, cred, features, 0, err)
		if se, ok := err.(*upstreamStatusError); ok {
			writeSSEError(w, c, se.status, se.body, nil)
		} else {
			writeSSEError(w, c, 0, nil, err)
		}
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}
	ns.Manager.Pool.RecordSuccess(ctx, cred.Filename)

	text = rehostResponseContentString(ctx, h.deps.ImageHost, text)

	chunk, err := json.Marshal(map[string]any{
		"id":      completionID,
		"object":  "chat.completion.chunk",
		"created": created,
		"model":   features.BaseName,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         map[string]any{"content": text},
			"finish_reason": translator.MapFinishReason(reason),
		}},
	})
	if err == nil {
		_ = streaming.WriteSSE(w, chunk)
	}
	_ = streaming.WriteDone(w)
	w.Flush()
}

// runAntiTruncation drives streaming.RunAntiTruncation with the §4.D retry
// contract layered on top of each continuation round: a retryable backend
// failure (429/5xx) rotates to another credential and re-issues that round
// rather than failing the whole continuation outright. The returned
// credential is whichever one the last round actually ran on, so the
// caller can record its outcome against the right credential.
func (h *handler) runAntiTruncation(ctx context.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte) (text, reason string, finalCred *credential.Credential, exhausted bool, err error) {
	maxTries := h.deps.Config.Streaming.AntiTruncationMaxTries
	triggers := streaming.TriggerReasons{}
	for _, r := range h.deps.Config.Streaming.TruncationFinishReasons {
		triggers[r] = true
	}

	finalCred = cred
	text, reason, err = streaming.RunAntiTruncation(ctx, payload, maxTries, triggers, func(ctx context.Context, p []byte) (string, string, error) {
		var body []byte
		var status int
		var callErr error
		finalCred, body, status, callErr, exhausted = h.retryBackendCall(ctx, ns, finalCred, features, func(ctx context.Context, cred *credential.Credential) ([]byte, int, error) {
			return h.deps.Backend.GenerateContent(ctx, cred.AccessToken(), features.BaseName, p)
		})
		if exhausted {
			return "", "", errRetriesExhausted
		}
		if callErr != nil {
			return "", "", callErr
		}
		if status >= 400 {
			return "", "", &upstreamStatusError{status: status, body: body}
		}
		return extractText(body)
	})
	if exhausted {
		err = errRetriesExhausted
	}
	return text, reason, finalCred, exhausted, err
}

func (h *handler) serveDirectStream(c *gin.Context, ns Namespace, cred *credential.Credential, features models.Features, payload []byte, completionID string, created int64) {
	ctx := c.Request.Context()
	w := c.Writer
	prepareSSE(w)

	maxRetries := h.deps.Config.Backend.MaxRetries
	var resp *http.Response
	var err error
	status := 0
	exhausted := false
	for attempt := 0; ; attempt++ {
		resp, err = h.deps.Backend.StreamGenerateContent(ctx, cred.AccessToken(), features.BaseName, payload)
		if err != nil {
			status = 0
		} else {
			status = resp.StatusCode
		}
		if err == nil && status < 400 {
			break
		}
		if err == nil && !isRetryable(status) {
			break
		}
		if resp != nil {
			resp.Body.Close()
		}
		if attempt >= maxRetries {
			exhausted = true
			break
		}
		next, ok := h.nextCredential(ctx, ns, features, cred, status, err)
		if !ok {
			exhausted = true
			break
		}
		cred = next
	}

	if exhausted {
		h.recordOutcome(ctx, ns, cred, features, status, err)
		writeSSENoCredentials(w, c)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}

	if err != nil {
		h.recordOutcome(ctx, ns, cred, features, 0, err)
		writeSSEError(w, c, 0, nil, err)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(resp.Body)
		h.recordOutcome(ctx, ns, cred, features, resp.StatusCode, nil)
		writeSSEError(w, c, resp.StatusCode, errBody, nil)
		_ = streaming.WriteDone(w)
		w.Flush()
		return
	}

	_ = streaming.ScanSSE(resp.Body, func(frame streaming.Frame) bool {
		if frame.Done {
			return false
		}
		chunk, done, err := translator.ChunkToOpenAI(frame.Data, features.BaseName, completionID, created)
		if err != nil {
			return true
		}
		chunk = rehostChunkContent(ctx, h.deps.ImageHost, chunk)
		_ = streaming.WriteSSE(w, chunk)
		w.Flush()
		return !done
	})
	ns.Manager.Pool.RecordSuccess(ctx, cred.Filename)
	_ = streaming.WriteDone(w)
	w.Flush()
}

// isRetryable reports whether a backend failure is transient enough to
// warrant rotating to another credential and trying again: rate limits and
// backend-side 5xx. Any other 4xx is the caller's fault and surfaced
// immediately (§4.D).
func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// nextCredential records the outcome of a failed attempt against cred,
// then draws and freshens the next credential to retry on. ok is false
// once the pool has nothing left to offer.
func (h *handler) nextCredential(ctx context.Context, ns Namespace, features models.Features, cred *credential.Credential, status int, err error) (*credential.Credential, bool) {
	h.recordOutcome(ctx, ns, cred, features, status, err)

	next, ok := ns.Manager.Pool.GetValidCredential(ctx, features.BaseName)
	if !ok {
		return nil, false
	}
	next, refreshErr := ns.Manager.EnsureFreshToken(ctx, next)
	if refreshErr != nil {
		return nil, false
	}
	return next, true
}

// retryBackendCall runs do against cred, rotating to another credential on
// a retryable failure up to Backend.MaxRetries times (§4.D). It returns
// the credential the final attempt actually ran on, so the caller can
// record its outcome or mark it successful. exhausted is true only when
// every attempt failed in a retryable way and retries or credentials ran
// out; an immediate non-retryable failure (4xx other than 429) comes back
// with exhausted=false so the caller surfaces its own status/body instead
// of a generic no-credentials error.
func (h *handler) retryBackendCall(ctx context.Context, ns Namespace, cred *credential.Credential, features models.Features, do func(context.Context, *credential.Credential) ([]byte, int, error)) (finalCred *credential.Credential, body []byte, status int, err error, exhausted bool) {
	maxRetries := h.deps.Config.Backend.MaxRetries
	for attempt := 0; ; attempt++ {
		body, status, err = do(ctx, cred)
		if err == nil && status < 400 {
			return cred, body, status, nil, false
		}
		if err == nil && !isRetryable(status) {
			return cred, body, status, nil, false
		}
		if attempt >= maxRetries {
			return cred, body, status, err, true
		}
		next, ok := h.nextCredential(ctx, ns, features, cred, status, err)
		if !ok {
			return cred, body, status, err, true
		}
		cred = next
	}
}

var errRetriesExhausted = errors.New("retries exhausted")

// rehostResponseContent runs the inline-image rehost pass (§4.E/§4.F) over
// a complete chat.completion response's message content.
func rehostResponseContent(ctx context.Context, client *imagehost.Client, respBody []byte) []byte {
	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() || content.String() == "" {
		return respBody
	}
	rehosted := imagehost.RehostDataURIs(ctx, client, content.String())
	if rehosted == content.String() {
		return respBody
	}
	out, err := sjson.SetBytes(respBody, "choices.0.message.content", rehosted)
	if err != nil {
		return respBody
	}
	return out
}

// rehostChunkContent is rehostResponseContent's streaming-chunk
// equivalent, operating on a chat.completion.chunk's delta content.
func rehostChunkContent(ctx context.Context, client *imagehost.Client, chunk []byte) []byte {
	content := gjson.GetBytes(chunk, "choices.0.delta.content")
	if !content.Exists() || content.String() == "" {
		return chunk
	}
	rehosted := imagehost.RehostDataURIs(ctx, client, content.String())
	if rehosted == content.String() {
		return chunk
	}
	out, err := sjson.SetBytes(chunk, "choices.0.delta.content", rehosted)
	if err != nil {
		return chunk
	}
	return out
}

// rehostResponseContentString is rehostResponseContent's plain-string
// equivalent, used by the anti-truncation paths which assemble their
// content outside of a JSON document until the final marshal.
func rehostResponseContentString(ctx context.Context, client *imagehost.Client, content string) string {
	return imagehost.RehostDataURIs(ctx, client, content)
}

// respondNoCredentials surfaces the terminal failure of the §4.D retry
// contract: every retryable attempt failed and the pool had no further
// credential to rotate to.
func respondNoCredentials(c *gin.Context) {
	respondAPIError(c, apperrors.New(http.StatusServiceUnavailable, "no_credentials", "api_error", "no credentials available after retrying"))
}

// writeSSENoCredentials is respondNoCredentials's SSE-frame equivalent for
// streaming responses that have already committed to a 200 status line.
func writeSSENoCredentials(w gin.ResponseWriter, c *gin.Context) {
	format := httpformat.DetectFromContext(c)
	payload, err := apperrors.New(http.StatusServiceUnavailable, "no_credentials", "api_error", "no credentials available after retrying").ToJSON(format)
	if err != nil {
		return
	}
	_ = streaming.WriteSSE(w, payload)
}

// upstreamStatusError carries a non-2xx backend status through the
// anti-truncation call signature, which otherwise only reports errors.
type upstreamStatusError struct {
	status int
	body   []byte
}

func (e *upstreamStatusError) Error() string { return "upstream error" }

// recordOutcome feeds a failed backend call back into the credential
// pool: a 429 starts a per-model cooldown, anything else (including a
// transport error reported as status 0) is tracked toward auto-disable.
func (h *handler) recordOutcome(ctx context.Context, ns Namespace, cred *credential.Credential, features models.Features, status int, err error) {
	if status == 0 {
		if se, ok := err.(*upstreamStatusError); ok {
			status = se.status
		} else if err != nil {
			status = http.StatusBadGateway
		}
	}
	ns.Manager.Pool.RecordError(ctx, cred.Filename, status, features.BaseName)
}

func isHealthCheck(raw []byte) bool {
	messages := gjson.GetBytes(raw, "messages").Array()
	if len(messages) != 1 {
		return false
	}
	msg := messages[0]
	return msg.Get("role").String() == "user" && msg.Get("content").String() == "Hi"
}

func healthCheckCompletion(modelName string) gin.H {
	return gin.H{
		"id":      "chatcmpl-healthcheck",
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   modelName,
		"choices": []gin.H{{
			"index":         0,
			"message":       gin.H{"role": "assistant", "content": common.HealthCheckReply},
			"finish_reason": "stop",
		}},
	}
}

// normalizeRequest drops empty messages before translation; max_tokens
// clamping and the forced topK happen in RequestToGemini itself (§8).
func normalizeRequest(raw []byte) []byte {
	messages := gjson.GetBytes(raw, "messages").Array()
	kept := make([]any, 0, len(messages))
	for _, msg := range messages {
		if msg.Get("content").String() == "" && !msg.Get("tool_calls").Exists() {
			continue
		}
		kept = append(kept, msg.Value())
	}
	out, err := sjson.SetBytes(raw, "messages", kept)
	if err != nil {
		return raw
	}
	return out
}

func readBody(c *gin.Context) ([]byte, error) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, err
	}
	return json.Marshal(body)
}

func prepareSSE(w gin.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func respondChatError(c *gin.Context, status int, code, message string) {
	respondAPIError(c, apperrors.New(status, code, "api_error", message))
}

// respondUpstreamError classifies a failed backend call into a
// standardized APIError and writes it with the backend's own status
// code where one is available. A transport failure (err set, no
// status) maps through MapNetworkError instead.
func respondUpstreamError(c *gin.Context, status int, body []byte, err error) {
	respondAPIError(c, apiErrorForOutcome(status, body, err))
}

func respondAPIError(c *gin.Context, apiErr *apperrors.APIError) {
	format := httpformat.DetectFromContext(c)
	body, err := apiErr.ToJSON(format)
	if err != nil {
		c.AbortWithStatus(apiErr.HTTPStatus)
		return
	}
	c.Data(apiErr.HTTPStatus, "application/json", body)
	c.Abort()
}

// apiErrorForOutcome picks MapNetworkError for transport-level failures
// (no upstream status to go on) and MapHTTPError otherwise, so stream
// and unary error paths classify backend failures the same way.
func apiErrorForOutcome(status int, body []byte, err error) *apperrors.APIError {
	if status == 0 {
		if err == nil {
			err = errNoUpstreamResponse
		}
		return apperrors.MapNetworkError(err)
	}
	return apperrors.MapHTTPError(status, body)
}

var errNoUpstreamResponse = errors.New("no upstream response")

// writeSSEError emits the same standardized error body as
// respondUpstreamError, but as an SSE data frame: streaming responses
// have already committed to a 200 status line by the time a backend
// call fails.
func writeSSEError(w gin.ResponseWriter, c *gin.Context, status int, body []byte, err error) {
	format := httpformat.DetectFromContext(c)
	payload, marshalErr := apiErrorForOutcome(status, body, err).ToJSON(format)
	if marshalErr != nil {
		return
	}
	_ = streaming.WriteSSE(w, payload)
}

func extractText(body []byte) (string, string, error) {
	var text strings.Builder
	for _, part := range gjson.GetBytes(body, "candidates.0.content.parts").Array() {
		if part.Get("thought").Bool() {
			continue
		}
		text.WriteString(part.Get("text").String())
	}
	reason := gjson.GetBytes(body, "candidates.0.finishReason").String()
	return text.String(), reason, nil
}
