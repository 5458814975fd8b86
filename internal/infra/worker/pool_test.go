package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := NewPool(4, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		err := p.Submit(func(ctx context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&ran, 1)
			return nil
		})
		if err != nil {
			wg.Done()
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()
	p.Stop()

	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Errorf("tasks ran = %d, want 10", got)
	}
}

func TestPool_SubmitRejectsNil(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	if err := p.Submit(nil); err == nil {
		t.Error("nil task must be rejected")
	}
}

func TestPool_SubmitFailsWhenSaturated(t *testing.T) {
	// Pool not started: the queue fills and Submit must not block.
	p := NewPool(1, zerolog.Nop())
	var err error
	for i := 0; i < 100; i++ {
		err = p.Submit(func(ctx context.Context) error { return nil })
		if err != nil {
			break
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestPool_TaskErrorsDoNotStopWorkers(t *testing.T) {
	p := NewPool(1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	done := make(chan struct{})
	if err := p.Submit(func(ctx context.Context) error { return errors.New("boom") }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) error { close(done); return nil }); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker stopped after a task error")
	}
}

func TestPool_StopWaitsForWorkers(t *testing.T) {
	p := NewPool(2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
