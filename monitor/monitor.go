package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Subscriber receives the Monitor Core's event stream (spec.md §4.7).
// Implementations must return quickly; Monitor serializes delivery on a
// single internal worker so slow handlers delay later events rather than
// reorder them.
type Subscriber interface {
	// Initialized fires once per successful (re)start, including
	// automatic restarts after a watcher ends.
	Initialized()
	// Changed fires with every fresh InstanceSet built from a watcher
	// payload, including the first one.
	Changed(set *InstanceSet)
	// Error fires for every WatchError or InvalidDataError produced
	// along the way. It never, by itself, changes monitor state.
	Error(err error)
	// Healthy fires when the watch transitions from unhealthy back to
	// healthy, including via the fallback healer.
	Healthy()
	// Unhealthy fires when the watch transitions from healthy to
	// unhealthy, either on a transport error or a watcher end.
	Unhealthy()
}

// SubscriberFuncs adapts plain functions to Subscriber; any nil field is
// a no-op, mirroring the http.HandlerFunc idiom for callers that only
// care about a subset of events.
type SubscriberFuncs struct {
	OnInitialized func()
	OnChanged     func(set *InstanceSet)
	OnError       func(err error)
	OnHealthy     func()
	OnUnhealthy   func()
}

func (f SubscriberFuncs) Initialized() {
	if f.OnInitialized != nil {
		f.OnInitialized()
	}
}
func (f SubscriberFuncs) Changed(set *InstanceSet) {
	if f.OnChanged != nil {
		f.OnChanged(set)
	}
}
func (f SubscriberFuncs) Error(err error) {
	if f.OnError != nil {
		f.OnError(err)
	}
}
func (f SubscriberFuncs) Healthy() {
	if f.OnHealthy != nil {
		f.OnHealthy()
	}
}
func (f SubscriberFuncs) Unhealthy() {
	if f.OnUnhealthy != nil {
		f.OnUnhealthy()
	}
}

// Monitor is the Monitor Core (spec.md §4.7): it owns one watcher's
// lifecycle (Stopped -> Starting -> Running-Healthy/Unhealthy ->
// Retrying -> ...), classifies every payload into an InstanceSet, and
// fans the result out to a Subscriber.
//
// Public getters read a mutex-guarded snapshot; the lifecycle itself
// (reacting to watcher events, arming the retry/fallback timers, deciding
// what to deliver) is driven by a single event-loop goroutine spawned by
// StartService, together with the retry and fallback timer callbacks it
// arms, which restart watchers and re-arm themselves under the same
// mutex. StopService tears all of them down (spec.md §5).
type Monitor struct {
	cfg      Config
	classify classifierConfig
	registry RegistryClient
	logger   hclog.Logger
	sub      Subscriber

	mu           sync.Mutex
	initialized  bool
	watchHealthy bool
	currentSet   *InstanceSet
	updateTime   time.Time
	headers      ConsulHeaders
	watcher      *watcherDriver
	retryTimer   scopedTimer
	fallbackTimer scopedTimer
	loopCancel   context.CancelFunc

	loopWG sync.WaitGroup
}

// NewMonitor constructs a Monitor. The returned value is Stopped; call
// StartService to begin watching.
func NewMonitor(registry RegistryClient, cfg Config) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	return &Monitor{
		cfg:      cfg,
		registry: registry,
		logger:   cfg.Logger.Named("monitor").With("service", cfg.ServiceName),
		classify: classifierConfig{
			statusCheckName:         cfg.StatusCheckName,
			extractors:              cfg.Extractors,
			strictStatusConsistency: cfg.strict(),
		},
		sub: SubscriberFuncs{},
	}, nil
}

// Subscribe installs the Subscriber that receives all future events.
// Must be called before StartService; Monitor does not support changing
// subscribers mid-flight.
func (m *Monitor) Subscribe(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub == nil {
		sub = SubscriberFuncs{}
	}
	m.sub = sub
}

// StartService begins watching the configured service, blocking until
// the first payload has been fetched and classified (spec.md §4.7
// "Public surface"). It fails with ErrAlreadyInitialized if a watcher is
// already running. Canceling ctx aborts the initial long-poll and, since
// the whole watch session is scoped to it, tears the session down the
// same way StopService would; pass context.Background() if only
// StopService should ever stop the watch.
func (m *Monitor) StartService(ctx context.Context) (*InstanceSet, error) {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	loopCtx, loopCancel := context.WithCancel(ctx)
	m.loopCancel = loopCancel
	m.mu.Unlock()

	set, errs, err := m.attemptStart(loopCtx)
	if err != nil {
		m.mu.Lock()
		m.loopCancel = nil
		m.mu.Unlock()
		loopCancel()
		return nil, err
	}

	deliveryCh := make(chan func(), 256)
	m.loopWG.Add(2)
	go m.runDeliveryWorker(deliveryCh)

	m.enqueue(loopCtx, deliveryCh, m.sub.Initialized)
	m.enqueue(loopCtx, deliveryCh, func() { m.sub.Changed(set) })
	for _, e := range errs {
		e := e
		m.enqueue(loopCtx, deliveryCh, func() { m.sub.Error(e) })
	}

	// The event loop starts only after the initial events are queued, so a
	// later payload's Changed can never be delivered ahead of them.
	go m.runEventLoop(loopCtx, deliveryCh)

	return set, nil
}

// StopService tears the watcher and its goroutines down and returns the
// monitor to Stopped. It is idempotent and safe to call from any state,
// including mid-retry.
func (m *Monitor) StopService() {
	m.mu.Lock()
	cancel := m.loopCancel
	m.loopCancel = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.loopWG.Wait()
}

// GetInstances returns the most recently published InstanceSet.
func (m *Monitor) GetInstances() (*InstanceSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return m.currentSet, nil
}

// IsInitialized reports whether a watcher is currently active.
func (m *Monitor) IsInitialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized
}

// IsWatchHealthy reports whether the watch is currently considered
// healthy (receiving fresh payloads, or recently so per the fallback
// healer).
func (m *Monitor) IsWatchHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized && m.watchHealthy
}

// GetUpdateTime returns the local time of the last successful payload.
func (m *Monitor) GetUpdateTime() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return time.Time{}, ErrNotInitialized
	}
	return m.updateTime, nil
}

// GetConsulHeaders returns the blocking-query metadata from the last
// successful payload.
func (m *Monitor) GetConsulHeaders() (ConsulHeaders, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return ConsulHeaders{}, ErrNotInitialized
	}
	return m.headers, nil
}

// attemptStart performs one health-service query and, on success,
// classifies it and installs the resulting watcher as current. It is
// used both by StartService and by the retry loop after a watcher ends.
func (m *Monitor) attemptStart(ctx context.Context) (*InstanceSet, []*InvalidDataError, error) {
	w := newWatcherDriver(m.registry, m.cfg.ServiceName, m.cfg.timeout(), m.cfg.WaitTime, m.logger)
	payload, err := w.start(ctx)
	if err != nil {
		return nil, nil, newWatchError(err)
	}

	set, errs := m.classifyPayload(*payload)

	m.mu.Lock()
	if ctx.Err() != nil {
		// Stopped while the query was in flight: discard the result rather
		// than installing it.
		m.mu.Unlock()
		w.stop()
		return nil, nil, newWatchError(ctx.Err())
	}
	m.initialized = true
	m.watchHealthy = true
	m.currentSet = set
	m.watcher = w
	m.updateTime = w.lastUpdateTime()
	m.headers = w.lastHeaders()
	m.mu.Unlock()

	return set, errs, nil
}

// classifyPayload runs the Response Validator and Classifier over one
// watcher payload, building a fresh InstanceSet (spec.md §4.4, §4.7).
func (m *Monitor) classifyPayload(p watcherPayload) (*InstanceSet, []*InvalidDataError) {
	vr := validateResponse(p.raw)
	set := NewInstanceSet()
	errs := append([]*InvalidDataError{}, vr.errors...)

	for _, n := range vr.nodes {
		res := classifyNode(n, m.classify)
		errs = append(errs, res.errs...)
		if res.skip {
			continue
		}
		set.Add(res.bucket, res.instance)
	}

	return set, errs
}

// runEventLoop is the single owner of watcher lifecycle transitions
// while a watch session is active. It exits exactly once, when ctx is
// canceled (by StopService or by the context passed to StartService).
func (m *Monitor) runEventLoop(ctx context.Context, deliveryCh chan func()) {
	defer m.loopWG.Done()
	wake := make(chan struct{}, 1)

	for {
		m.mu.Lock()
		w := m.watcher
		m.mu.Unlock()

		var changeCh chan watcherPayload
		var errorCh chan error
		var endCh chan struct{}
		if w != nil {
			changeCh, errorCh, endCh = w.changeCh, w.errorCh, w.endCh
		}

		select {
		case <-ctx.Done():
			m.teardown(deliveryCh)
			return

		case payload := <-changeCh:
			m.handleChange(ctx, deliveryCh, w, payload)

		case err := <-errorCh:
			m.handleError(ctx, deliveryCh, w, err)

		case <-endCh:
			m.handleEnd(ctx, deliveryCh, wake)

		case <-wake:
			// A retry installed a new watcher; loop around and pick it up.
		}
	}
}

func (m *Monitor) handleChange(ctx context.Context, deliveryCh chan func(), w *watcherDriver, payload watcherPayload) {
	set, errs := m.classifyPayload(payload)

	m.mu.Lock()
	m.currentSet = set
	m.updateTime = w.lastUpdateTime()
	m.headers = w.lastHeaders()
	wasHealthy := m.watchHealthy
	m.watchHealthy = true
	m.fallbackTimer.stop()
	m.mu.Unlock()

	m.enqueue(ctx, deliveryCh, func() { m.sub.Changed(set) })
	for _, e := range errs {
		e := e
		m.enqueue(ctx, deliveryCh, func() { m.sub.Error(e) })
	}
	if !wasHealthy {
		m.enqueue(ctx, deliveryCh, m.sub.Healthy)
	}
}

func (m *Monitor) handleError(ctx context.Context, deliveryCh chan func(), w *watcherDriver, watchErr error) {
	m.mu.Lock()
	wasHealthy := m.watchHealthy
	m.watchHealthy = false
	baseline := w.lastUpdateTime()
	m.mu.Unlock()

	we := newWatchError(watchErr)
	m.enqueue(ctx, deliveryCh, func() { m.sub.Error(we) })

	if !wasHealthy {
		return
	}
	m.enqueue(ctx, deliveryCh, m.sub.Unhealthy)
	m.armFallbackHealer(ctx, deliveryCh, w, baseline)
}

// armFallbackHealer re-arms itself every FallbackInterval until either
// the watcher produces a fresher payload than baseline (the watch healed
// on its own) or the monitor is stopped (spec.md §4.7 "fallback healer").
func (m *Monitor) armFallbackHealer(ctx context.Context, deliveryCh chan func(), w *watcherDriver, baseline time.Time) {
	var fire func()
	fire = func() {
		if ctx.Err() != nil {
			return
		}
		if w.lastUpdateTime().After(baseline) {
			m.mu.Lock()
			healed := !m.watchHealthy
			m.watchHealthy = true
			m.mu.Unlock()
			if healed {
				m.enqueue(ctx, deliveryCh, m.sub.Healthy)
			}
			return
		}
		m.mu.Lock()
		m.fallbackTimer.set(m.cfg.FallbackInterval, fire)
		m.mu.Unlock()
	}
	m.mu.Lock()
	m.fallbackTimer.set(m.cfg.FallbackInterval, fire)
	m.mu.Unlock()
}

func (m *Monitor) handleEnd(ctx context.Context, deliveryCh chan func(), wake chan struct{}) {
	m.mu.Lock()
	wasHealthy := m.watchHealthy
	m.watchHealthy = false
	m.initialized = false
	m.watcher = nil
	m.fallbackTimer.stop()
	m.mu.Unlock()

	if wasHealthy {
		m.enqueue(ctx, deliveryCh, m.sub.Unhealthy)
	}
	m.scheduleRetry(ctx, deliveryCh, wake)
}

// scheduleRetry arms (or re-arms, on repeated failure) the retry timer
// that drives the Retrying state, per spec.md §4.7's state diagram
// ("Retrying schedules startService after the retry delay ... until
// success"). A stop racing with an in-flight attempt is detected via
// ctx.Err() both before and after the network call so the monitor never
// promotes a retried watcher back to Running once stopped.
func (m *Monitor) scheduleRetry(ctx context.Context, deliveryCh chan func(), wake chan struct{}) {
	var fire func()
	fire = func() {
		if ctx.Err() != nil {
			return
		}

		set, errs, err := m.attemptStart(ctx)

		if ctx.Err() != nil {
			if err == nil {
				m.mu.Lock()
				w := m.watcher
				m.mu.Unlock()
				if w != nil {
					w.stop()
				}
			}
			return
		}

		if err != nil {
			we := newWatchError(err)
			m.enqueue(ctx, deliveryCh, func() { m.sub.Error(we) })
			m.mu.Lock()
			m.retryTimer.set(m.cfg.RetryDelay, fire)
			m.mu.Unlock()
			return
		}

		m.enqueue(ctx, deliveryCh, m.sub.Initialized)
		m.enqueue(ctx, deliveryCh, func() { m.sub.Changed(set) })
		for _, e := range errs {
			e := e
			m.enqueue(ctx, deliveryCh, func() { m.sub.Error(e) })
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	m.mu.Lock()
	m.retryTimer.set(m.cfg.RetryDelay, fire)
	m.mu.Unlock()
}

// teardown runs once, on the event loop's own goroutine, when ctx is
// canceled (by StopService or by the context passed to StartService). It stops every timer and the active watcher, then closes
// deliveryCh so the delivery worker drains and exits.
func (m *Monitor) teardown(deliveryCh chan func()) {
	m.mu.Lock()
	m.retryTimer.stop()
	m.fallbackTimer.stop()
	w := m.watcher
	m.watcher = nil
	m.initialized = false
	m.watchHealthy = false
	m.mu.Unlock()

	if w != nil {
		w.stop()
	}
	close(deliveryCh)
}

// runDeliveryWorker drains deliveryCh in order, guaranteeing Subscriber
// callbacks are never invoked concurrently with each other and always
// observe events in emission order.
func (m *Monitor) runDeliveryWorker(deliveryCh chan func()) {
	defer m.loopWG.Done()
	for fn := range deliveryCh {
		fn()
	}
}

// enqueue schedules fn for delivery, dropping it silently if ctx is
// already canceled (StopService in progress) rather than blocking
// forever on a full, abandoned channel.
func (m *Monitor) enqueue(ctx context.Context, deliveryCh chan func(), fn func()) {
	select {
	case deliveryCh <- fn:
	case <-ctx.Done():
	}
}
