package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"crashrelay/internal/domain"
)

func TestQueueFIFOAcrossKinds(t *testing.T) {
	q := New()
	now := time.Unix(1700000000, 0)
	in := []domain.Task{
		domain.NewInstall(),
		domain.Foreground(now),
		domain.FlushLifecycles(),
		domain.Background(now.Add(time.Second)),
		domain.GetConfig(),
		domain.Foreground(now.Add(2 * time.Second)),
	}
	for _, task := range in {
		if !q.Enqueue(task) {
			t.Fatalf("enqueue %v returned false", task.Kind)
		}
	}
	if q.Len() != len(in) {
		t.Fatalf("expected len %d, got %d", len(in), q.Len())
	}
	for i, want := range in {
		got, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if got != want {
			t.Fatalf("position %d: expected %+v, got %+v", i, want, got)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := New()
	got := make(chan domain.Task, 1)
	go func() {
		task, err := q.Dequeue(context.Background())
		if err == nil {
			got <- task
		}
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue(domain.NewInstall())
	select {
	case task := <-got:
		if task.Kind != domain.KindNewInstall {
			t.Fatalf("unexpected task %+v", task)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue was not woken by enqueue")
	}
}

func TestDequeueHonoursContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestConcurrentProducersKeepPerProducerOrder(t *testing.T) {
	q := New()
	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				// encode producer and sequence in the timestamp
				q.Enqueue(domain.Foreground(time.Unix(int64(p), int64(i))))
			}
		}(p)
	}

	last := make(map[int64]int64)
	for n := 0; n < producers*perProducer; n++ {
		task, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		p, seq := task.At.Unix(), int64(task.At.Nanosecond())
		if prev, ok := last[p]; ok && seq <= prev {
			t.Fatalf("producer %d out of order: %d after %d", p, seq, prev)
		}
		last[p] = seq
	}
	wg.Wait()
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, got %d", q.Len())
	}
}

func TestDepthGaugeSumsAcrossQueues(t *testing.T) {
	before := testutil.ToFloat64(queueDepth)
	a, b := New(), New()

	a.Enqueue(domain.NewInstall())
	a.Enqueue(domain.GetConfig())
	b.Enqueue(domain.FlushLifecycles())
	if got := testutil.ToFloat64(queueDepth) - before; got != 3 {
		t.Fatalf("expected depth +3, got %v", got)
	}

	b.TryDequeue()
	if got := testutil.ToFloat64(queueDepth) - before; got != 2 {
		t.Fatalf("draining one queue must not reset the other's depth, got %v", got)
	}
	a.TryDequeue()
	a.TryDequeue()
	if got := testutil.ToFloat64(queueDepth) - before; got != 0 {
		t.Fatalf("expected depth back to baseline, got %v", got)
	}
}
