package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"crashrelay/internal/customkeys"
	"crashrelay/internal/customlog"
	"crashrelay/internal/device"
	"crashrelay/internal/domain"
	"crashrelay/internal/gate"
	"crashrelay/internal/queue"
	"crashrelay/internal/store"
	"crashrelay/internal/transport"
)

const (
	DefaultSessionThreshold = 5 * time.Second
	DefaultFlushBytes       = 1000
	logEventKey             = "log"
)

// Sender delivers a payload without waiting for the response.
type Sender interface {
	Send(url string, payload any, done func(transport.Response, error))
}

// Poster performs a synchronous POST.
type Poster interface {
	Post(ctx context.Context, url string, payload any) (transport.Response, error)
}

type Deps struct {
	Queue  *queue.TaskQueue
	Gate   *gate.Gate
	Store  store.Repository
	Keys   *customkeys.Cache
	Logs   *customlog.Buffer
	Device device.Provider
	Sender Sender
	Poster Poster
}

type Options struct {
	ConfigURL  string
	SDKVersion string
	// SessionThreshold is how long the app must stay in the background
	// before the next foreground starts a new session.
	SessionThreshold time.Duration
	// FlushBytes triggers a sessions delivery once the cached lifecycles
	// grow beyond it.
	FlushBytes int64
}

// Dispatcher is the single consumer of the task queue.
type Dispatcher struct {
	Deps
	opts Options

	mu           sync.Mutex
	focused      bool
	sessionStart int64
	sessionEnd   int64
}

func New(deps Deps, opts Options) *Dispatcher {
	if opts.SessionThreshold <= 0 {
		opts.SessionThreshold = DefaultSessionThreshold
	}
	if opts.FlushBytes <= 0 {
		opts.FlushBytes = DefaultFlushBytes
	}
	return &Dispatcher{Deps: deps, opts: opts}
}

// Focused reports whether the last lifecycle event was a foreground.
func (d *Dispatcher) Focused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focused
}

// Run processes tasks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	log.Info().Msg("dispatcher started")
	for {
		task, err := d.Queue.Dequeue(ctx)
		if err != nil {
			log.Info().Msg("dispatcher stopped")
			return
		}
		d.Process(ctx, task)
	}
}

// Process handles one task. Every kind except GetConfig is dropped while
// the gate is disabled.
func (d *Dispatcher) Process(ctx context.Context, task domain.Task) {
	if task.Kind == domain.KindGetConfig {
		d.refreshConfig(ctx)
		dispatchedTotal.WithLabelValues(string(task.Kind), "processed").Inc()
		return
	}

	decision := d.Gate.Decision()
	if !decision.Enabled {
		dispatchedTotal.WithLabelValues(string(task.Kind), "disabled").Inc()
		log.Debug().Str("kind", string(task.Kind)).Msg("agent disabled, dropping task")
		return
	}

	switch task.Kind {
	case domain.KindForeground:
		d.foreground(ctx, decision, task.At)
	case domain.KindBackground:
		d.background(task.At)
	case domain.KindFlushLifecycles:
		d.flushLifecycles(ctx, decision)
	case domain.KindNewInstall:
		d.reportInstall(ctx, decision)
	default:
		dispatchedTotal.WithLabelValues(string(task.Kind), "unknown").Inc()
		log.Error().Str("kind", string(task.Kind)).Msg("no processor for task kind")
		return
	}
	dispatchedTotal.WithLabelValues(string(task.Kind), "processed").Inc()
}

func (d *Dispatcher) refreshConfig(ctx context.Context) {
	body := make(map[string]any)
	for k, v := range d.Device.Identifiers() {
		body[k] = v
	}
	body["sdk_version"] = d.opts.SDKVersion
	if v, ok := body["version"]; ok {
		body["app_version"] = v
		delete(body, "version")
	}

	resp, err := d.Poster.Post(ctx, d.opts.ConfigURL, body)
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Error().Err(err).Int("status", resp.StatusCode).Str("url", d.opts.ConfigURL).Msg("config fetch failed")
		d.setFlag(ctx, domain.KeyFailedInit, true)
		d.Gate.Apply(ctx, gate.Payload{})
		return
	}
	if err := d.Store.Delete(ctx, domain.KeyFailedInit); err != nil {
		log.Error().Err(err).Msg("failed to clear init failure flag")
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err != nil {
		log.Error().Err(err).Msg("config response is not JSON")
		d.Gate.Apply(ctx, gate.Payload{})
		return
	}
	decision := d.Gate.Evaluate(ctx, envelope.Data)
	log.Info().Bool("enabled", decision.Enabled).Msg("config applied")
}

func (d *Dispatcher) foreground(ctx context.Context, decision domain.Decision, at time.Time) {
	ms := at.UnixMilli()

	d.mu.Lock()
	d.focused = true
	if d.sessionStart == 0 {
		d.sessionStart = ms
		d.mu.Unlock()
		return
	}
	if ms-d.sessionEnd <= d.opts.SessionThreshold.Milliseconds() {
		d.mu.Unlock()
		return
	}
	lc := domain.Lifecycle{Foreground: d.sessionStart, Background: d.sessionEnd}
	d.sessionStart = ms
	d.mu.Unlock()

	if err := d.cacheLifecycle(ctx, lc); err != nil {
		log.Error().Err(err).Msg("failed to cache lifecycle")
		return
	}
	n, err := d.Store.LifecycleBytes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to size lifecycle cache")
		return
	}
	if n > d.opts.FlushBytes {
		d.sendLifecycles(ctx, decision)
	}
}

func (d *Dispatcher) background(at time.Time) {
	d.mu.Lock()
	d.focused = false
	d.sessionEnd = at.UnixMilli()
	d.mu.Unlock()
}

func (d *Dispatcher) flushLifecycles(ctx context.Context, decision domain.Decision) {
	n, err := d.Store.LifecycleBytes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to size lifecycle cache")
		return
	}
	if n == 0 {
		return
	}
	d.sendLifecycles(ctx, decision)
}

func (d *Dispatcher) reportInstall(ctx context.Context, decision domain.Decision) {
	isNew, ok, err := store.GetBool(ctx, d.Store, domain.KeyNewInstall)
	if err != nil {
		log.Error().Err(err).Msg("failed to read install flag")
		return
	}
	if ok && !isNew {
		return
	}
	d.setFlag(ctx, domain.KeyFlushLifecycles, false)

	if decision.InstallEndpoint == "" {
		log.Warn().Msg("no install endpoint configured")
		return
	}
	payload := make(map[string]any)
	for k, v := range d.Device.Info() {
		payload[k] = v
	}
	payload["device_info"] = d.Device.Details()

	d.Sender.Send(decision.InstallEndpoint, payload, func(resp transport.Response, err error) {
		if err == nil && resp.StatusCode == http.StatusOK {
			d.setFlag(context.Background(), domain.KeyNewInstall, false)
			log.Info().Msg("install reported")
		}
	})
}

// ReportCrash closes the current session with crash details and delivers
// every cached lifecycle before returning, since the process is expected
// to exit afterwards.
func (d *Dispatcher) ReportCrash(ctx context.Context, cause error, stack string) error {
	decision := d.Gate.Decision()
	if !decision.Enabled {
		return nil
	}

	now := time.Now().UnixMilli()
	d.mu.Lock()
	if d.sessionStart == 0 {
		d.sessionStart = now
	}
	d.sessionEnd = now
	lc := domain.Lifecycle{Foreground: d.sessionStart, Background: d.sessionEnd}
	d.mu.Unlock()

	lc.CrashDetails = &domain.CrashDetails{
		OriginError: originError(cause),
		StackTrace:  stack,
		AppEvents:   d.appEvents(),
		SystemStats: d.Device.SystemStats(),
	}
	if err := d.cacheLifecycle(ctx, lc); err != nil {
		return fmt.Errorf("cache crash lifecycle: %w", err)
	}

	payload, lastID, err := d.sessionsPayload(ctx)
	if err != nil {
		return err
	}
	resp, err := d.Poster.Post(ctx, decision.SessionsEndpoint, payload)
	d.afterSessions(context.Background(), lastID, resp, err)
	if err != nil {
		return fmt.Errorf("deliver crash: %w", err)
	}
	return nil
}

func (d *Dispatcher) sendLifecycles(ctx context.Context, decision domain.Decision) {
	if decision.SessionsEndpoint == "" {
		log.Warn().Msg("no sessions endpoint configured")
		return
	}
	payload, lastID, err := d.sessionsPayload(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to build sessions payload")
		return
	}
	d.Sender.Send(decision.SessionsEndpoint, payload, func(resp transport.Response, err error) {
		d.afterSessions(context.Background(), lastID, resp, err)
	})
}

func (d *Dispatcher) afterSessions(ctx context.Context, lastID int64, resp transport.Response, err error) {
	if err != nil || resp.StatusCode != http.StatusOK {
		d.setFlag(ctx, domain.KeyFlushLifecycles, true)
		return
	}
	if err := d.Store.ClearLifecycles(ctx, lastID); err != nil {
		log.Error().Err(err).Msg("failed to clear delivered lifecycles")
	}
	d.setFlag(ctx, domain.KeyFlushLifecycles, false)
}

// sessionsPayload assembles the sessions report from the device
// identifiers, cached lifecycles and custom keys/logs. lastID is the
// newest lifecycle included.
func (d *Dispatcher) sessionsPayload(ctx context.Context) (map[string]any, int64, error) {
	recs, err := d.Store.ListLifecycles(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list lifecycles: %w", err)
	}
	lifecycles := make([]json.RawMessage, 0, len(recs))
	var lastID int64
	for _, r := range recs {
		lifecycles = append(lifecycles, r.Body)
		lastID = r.ID
	}

	payload := make(map[string]any)
	for k, v := range d.Device.Identifiers() {
		payload[k] = v
	}
	payload["report_id"] = uuid.NewString()
	payload["lifecycles"] = lifecycles
	payload["app_events"] = d.appEvents()
	return payload, lastID, nil
}

func (d *Dispatcher) appEvents() []domain.AppEvent {
	keys := d.Keys.Snapshot()
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	events := make([]domain.AppEvent, 0, len(names)+1)
	for _, k := range names {
		events = append(events, domain.AppEvent{Key: k, Value: keys[k]})
	}
	if logs := d.Logs.Render(); logs != "" {
		events = append(events, domain.AppEvent{Key: logEventKey, Value: logs})
	}
	return events
}

func (d *Dispatcher) cacheLifecycle(ctx context.Context, lc domain.Lifecycle) error {
	b, err := json.Marshal(lc)
	if err != nil {
		return err
	}
	_, err = d.Store.AppendLifecycle(ctx, b)
	return err
}

func (d *Dispatcher) setFlag(ctx context.Context, key string, v bool) {
	if err := store.SetBool(ctx, d.Store, key, v); err != nil {
		log.Error().Err(err).Str("key", key).Msg("failed to persist flag")
	}
}

func originError(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%T: %v", err, err)
}
