package main

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakePinger fails the first n pings.
type fakePinger struct {
	fail  int
	calls int
}

func (f *fakePinger) Ping(context.Context) error {
	f.calls++
	if f.calls <= f.fail {
		return errors.New("connection refused")
	}
	return nil
}

func TestPingWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakePinger{fail: 2}
	start := time.Now()
	if err := pingWithRetry(context.Background(), f, 3, 5*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 pings, got %d", f.calls)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestPingWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakePinger{fail: 10}
	if err := pingWithRetry(context.Background(), f, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 pings, got %d", f.calls)
	}
}

func TestPingWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &fakePinger{fail: 10}
	if err := pingWithRetry(ctx, f, 5, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
