package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPoolRunsAllJobs(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPool(3, 100)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { p.Run(ctx); close(stopped) }()

	var wg sync.WaitGroup
	var done atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		if err := p.Submit("count", func(context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()
	cancel()
	<-stopped

	if done.Load() != 50 {
		t.Fatalf("expected 50 jobs, ran %d", done.Load())
	}
}

func TestPoolSubmitNeverBlocks(t *testing.T) {
	p := NewPool(1, 1)
	// no Run: nothing drains the backlog
	if err := p.Submit("a", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	start := time.Now()
	if err := p.Submit("b", func(context.Context) error { return nil }); !errors.Is(err, ErrFull) {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("submit blocked on a full backlog")
	}
}

func TestPoolSurvivesPanicsAndErrors(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	p := NewPool(1, 10)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() { p.Run(ctx); close(stopped) }()

	ran := make(chan struct{})
	_ = p.Submit("panics", func(context.Context) error { panic("boom") })
	_ = p.Submit("fails", func(context.Context) error { return errors.New("boom") })
	_ = p.Submit("after", func(context.Context) error { close(ran); return nil })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking job")
	}
	cancel()
	<-stopped
}
