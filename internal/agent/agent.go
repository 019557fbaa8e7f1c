// Package agent wires the crash reporting core together and exposes the
// API host applications call.
package agent

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"crashrelay/internal/customkeys"
	"crashrelay/internal/customlog"
	"crashrelay/internal/device"
	"crashrelay/internal/dispatcher"
	"crashrelay/internal/domain"
	"crashrelay/internal/gate"
	"crashrelay/internal/queue"
	"crashrelay/internal/store"
	"crashrelay/internal/transport"
	"crashrelay/internal/worker"
)

const SDKVersion = "1.0.0"

type Options struct {
	AppID           string
	AppVersion      string
	ConfigURL       string
	SubscriptionKey string
	Workers         int
	Backlog         int
	Timeout         time.Duration
	SessionGap      time.Duration
}

type Agent struct {
	queue      *queue.TaskQueue
	gate       *gate.Gate
	keys       *customkeys.Cache
	logs       *customlog.Buffer
	pool       *worker.Pool
	dispatcher *dispatcher.Dispatcher
	started    atomic.Bool
}

func New(ctx context.Context, repo store.Repository, opts Options) (*Agent, error) {
	host, err := device.LoadHost(ctx, repo, opts.AppID, opts.AppVersion)
	if err != nil {
		return nil, err
	}

	a := &Agent{
		queue: queue.New(),
		keys:  customkeys.New(domain.MaxCustomKeys),
		logs:  customlog.New(domain.MaxLogEntries),
		pool:  worker.NewPool(opts.Workers, opts.Backlog),
	}
	a.gate = gate.New(repo, a.onConfig)

	client := transport.NewClient(opts.SubscriptionKey, opts.Timeout)
	a.dispatcher = dispatcher.New(dispatcher.Deps{
		Queue:  a.queue,
		Gate:   a.gate,
		Store:  repo,
		Keys:   a.keys,
		Logs:   a.logs,
		Device: host,
		Sender: transport.NewAsync(client, a.pool),
		Poster: client,
	}, dispatcher.Options{
		ConfigURL:        opts.ConfigURL,
		SDKVersion:       SDKVersion,
		SessionThreshold: opts.SessionGap,
	})
	host.Focused = a.dispatcher.Focused
	return a, nil
}

// Run starts delivery workers and the dispatcher, then requests the remote
// config. It blocks until ctx is done.
func (a *Agent) Run(ctx context.Context) {
	poolDone := make(chan struct{})
	go func() {
		a.pool.Run(ctx)
		close(poolDone)
	}()
	a.queue.Enqueue(domain.GetConfig())
	a.dispatcher.Run(ctx)
	<-poolDone
}

// onConfig queues the start-up work the first time the agent is enabled.
func (a *Agent) onConfig(_ context.Context, enabled bool, sessionsURL, installURL string) {
	log.Info().Bool("enabled", enabled).Str("sessions", sessionsURL).Str("install", installURL).Msg("crash reporting configured")
	if !enabled || !a.started.CompareAndSwap(false, true) {
		return
	}
	a.queue.Enqueue(domain.FlushLifecycles())
	a.queue.Enqueue(domain.NewInstall())
	a.queue.Enqueue(domain.Foreground(time.Now()))
}

// Enqueue queues a lifecycle task.
func (a *Agent) Enqueue(t domain.Task) bool { return a.queue.Enqueue(t) }

func (a *Agent) Decision() domain.Decision { return a.gate.Decision() }

func (a *Agent) QueueLen() int { return a.queue.Len() }

func (a *Agent) Log(line string) error { return a.logs.Append(line) }

func (a *Agent) Logs() []string { return a.logs.Lines() }

func (a *Agent) SetString(key, value string) error { return a.keys.Add(key, value) }

func (a *Agent) SetBool(key string, value bool) error {
	return a.keys.Add(key, strconv.FormatBool(value))
}

func (a *Agent) SetInt(key string, value int) error {
	return a.keys.Add(key, strconv.Itoa(value))
}

func (a *Agent) SetFloat(key string, value float64) error {
	return a.keys.Add(key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (a *Agent) RemoveKey(key string) { a.keys.Remove(key) }

func (a *Agent) Keys() map[string]string { return a.keys.Snapshot() }

// ReportCrash delivers a crash synchronously.
func (a *Agent) ReportCrash(ctx context.Context, cause error, stack []byte) error {
	return a.dispatcher.ReportCrash(ctx, cause, string(stack))
}

// Recover reports a panic in progress and re-panics. Use it as
// `defer a.Recover()` at the top of goroutines that should be monitored.
func (a *Agent) Recover() {
	r := recover()
	if r == nil {
		return
	}
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", r)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if rerr := a.ReportCrash(ctx, err, debug.Stack()); rerr != nil {
		log.Error().Err(rerr).Msg("failed to report crash")
	}
	panic(r)
}
