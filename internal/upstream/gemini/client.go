// Package gemini is the HTTP client for the Gemini-compatible backend
// (§4.D): unary generateContent calls and raw SSE streaming calls, with
// retry, timeout and tracing wired through like the rest of the gateway.
package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("gcli2api-go/upstream/gemini")

// Client issues generateContent and streamGenerateContent calls against a
// Gemini-compatible backend base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
}

// NewClient builds a client with gzip transport compression and a
// request timeout suited to long-running generations.
func NewClient(baseURL string, timeout time.Duration) *Client {
	transport := gzhttp.Transport(http.DefaultTransport)
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Transport: transport, Timeout: timeout},
		MaxRetries: 2,
	}
}

func (c *Client) endpoint(model, verb string) string {
	return fmt.Sprintf("%s/v1/models/%s:%s", c.BaseURL, model, verb)
}

// GenerateContent performs a single non-streaming backend call.
func (c *Client) GenerateContent(ctx context.Context, accessToken, model string, payload []byte) ([]byte, int, error) {
	ctx, span := tracer.Start(ctx, "gemini.GenerateContent", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		body, status, err := c.doRequest(ctx, accessToken, c.endpoint(model, "generateContent"), payload)
		if err == nil {
			if status >= 500 && attempt < c.MaxRetries {
				lastErr = fmt.Errorf("backend returned %d", status)
				continue
			}
			return body, status, nil
		}
		lastErr = err
	}
	span.SetStatus(codes.Error, lastErr.Error())
	return nil, 0, lastErr
}

// StreamGenerateContent performs a streaming backend call and returns the
// raw HTTP response for the caller to scan as SSE. The caller owns
// closing the response body.
func (c *Client) StreamGenerateContent(ctx context.Context, accessToken, model string, payload []byte) (*http.Response, error) {
	ctx, span := tracer.Start(ctx, "gemini.StreamGenerateContent", trace.WithAttributes(attribute.String("model", model)))
	defer span.End()

	url := c.endpoint(model, "streamGenerateContent") + "?alt=sse"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stream request: %w", err)
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, accessToken, url string, payload []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
