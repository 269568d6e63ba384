package streaming

import (
	"context"
	"strconv"
	"time"
)

// UnaryCall performs one backend call and returns its raw response body
// plus HTTP status, used as the real work fake-streaming races against
// heartbeats.
type UnaryCall func(ctx context.Context) (body []byte, status int, err error)

// FakeStreamResult is the outcome of a fake-streamed call, handed to the
// caller once the underlying unary call has completed.
type FakeStreamResult struct {
	Body   []byte
	Status int
	Err    error
}

// RunFakeStream starts call in the background and invokes onHeartbeat
// every interval while it is still in flight — the backend is a real
// unary call, not a pre-split response, so the heartbeats are the only
// client-visible activity until the call actually returns. Returns once
// call has completed or ctx is cancelled.
func RunFakeStream(ctx context.Context, interval time.Duration, call UnaryCall, onHeartbeat func()) FakeStreamResult {
	resultCh := make(chan FakeStreamResult, 1)
	go func() {
		body, status, err := call(ctx)
		resultCh <- FakeStreamResult{Body: body, Status: status, Err: err}
	}()

	onHeartbeat()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case res := <-resultCh:
			return res
		case <-ticker.C:
			onHeartbeat()
		case <-ctx.Done():
			return FakeStreamResult{Err: ctx.Err()}
		}
	}
}

// HeartbeatChunk is the minimal OpenAI-shaped chunk sent as a keep-alive:
// an assistant delta with empty content, so clients don't render any
// visible content from it.
func HeartbeatChunk(model, id string, created int64) []byte {
	return []byte(`{"id":"` + id + `","object":"chat.completion.chunk","created":` + strconv.FormatInt(created, 10) +
		`,"model":"` + model + `","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`)
}
