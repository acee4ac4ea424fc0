package main

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pubble-team/pubbleauth/internal/logging"
)

func newTestResources(t *testing.T) *resources {
	t.Helper()
	logger, err := logging.New("error", "text", io.Discard)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	r := newResources(logger)
	r.sweepEvery = 5 * time.Millisecond
	return r
}

func TestSweepCancelsInFlightRunOnClose(t *testing.T) {
	r := newTestResources(t)

	started := make(chan struct{})
	var calls atomic.Int32
	var sawCancel atomic.Bool
	r.sweep(context.Background(), func(ctx context.Context, _ time.Time) (int64, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-ctx.Done()
		sawCancel.Store(true)
		return 0, ctx.Err()
	})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}

	closed := make(chan struct{})
	go func() {
		r.close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("close did not stop the sweep")
	}

	if !sawCancel.Load() {
		t.Fatal("close returned before the running sweep saw cancellation")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one sweep run, got %d", got)
	}
}

func TestSweepStopsWithParentContext(t *testing.T) {
	r := newTestResources(t)
	ctx, cancel := context.WithCancel(context.Background())

	runs := make(chan context.Context, 16)
	r.sweep(ctx, func(ctx context.Context, _ time.Time) (int64, error) {
		select {
		case runs <- ctx:
		default:
		}
		return 1, nil
	})

	var sweepCtx context.Context
	select {
	case sweepCtx = <-runs:
	case <-time.After(time.Second):
		t.Fatal("sweep never ran")
	}
	cancel()

	select {
	case <-sweepCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("sweep context not cancelled with its parent")
	}
	r.close()
}
