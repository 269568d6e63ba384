package streaming

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunFakeStream_HeartbeatsWhileCallInFlight(t *testing.T) {
	var heartbeats int32
	call := func(ctx context.Context) ([]byte, int, error) {
		time.Sleep(75 * time.Millisecond)
		return []byte("OK"), 200, nil
	}

	res := RunFakeStream(context.Background(), 20*time.Millisecond, call, func() {
		atomic.AddInt32(&heartbeats, 1)
	})

	if res.Status != 200 || string(res.Body) != "OK" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if atomic.LoadInt32(&heartbeats) < 4 {
		t.Fatalf("expected at least 4 heartbeats (1 immediate + ticks) during a 75ms call at 20ms interval, got %d", heartbeats)
	}
}

func TestRunFakeStream_CancelledContextStopsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	call := func(ctx context.Context) ([]byte, int, error) {
		<-ctx.Done()
		return nil, 0, ctx.Err()
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := RunFakeStream(ctx, time.Second, call, func() {})
	if res.Err == nil {
		t.Fatalf("expected cancellation error")
	}
}
