package worker

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog/log"
)

var ErrFull = errors.New("worker pool backlog is full")

// Job is a unit of background work. It receives the pool's run context.
type Job func(ctx context.Context) error

type namedJob struct {
	name string
	fn   Job
}

// Pool runs submitted jobs on a fixed number of goroutines. Submit never
// blocks: once the backlog is full further jobs are rejected.
type Pool struct {
	jobs chan namedJob
	size int
	wg   sync.WaitGroup
}

func NewPool(size, backlog int) *Pool {
	if size <= 0 {
		size = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	return &Pool{jobs: make(chan namedJob, backlog), size: size}
}

// Submit queues job for execution.
func (p *Pool) Submit(name string, job Job) error {
	if job == nil {
		return nil
	}
	select {
	case p.jobs <- namedJob{name: name, fn: job}:
		return nil
	default:
		return ErrFull
	}
}

// Run starts the workers and blocks until ctx is done and every in-flight
// job has returned. Jobs still waiting in the backlog are dropped.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	<-ctx.Done()
	p.wg.Wait()

	dropped := 0
	for {
		select {
		case <-p.jobs:
			dropped++
			continue
		default:
		}
		break
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("worker pool stopped with queued jobs")
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.jobs:
			p.run(ctx, j)
		}
	}
}

func (p *Pool) run(ctx context.Context, j namedJob) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", j.name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("worker recovered panic")
		}
	}()
	if err := j.fn(ctx); err != nil {
		log.Error().Err(err).Str("job", j.name).Msg("job failed")
	}
}
