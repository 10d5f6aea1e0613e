package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// watcherPayload is what the Watcher Driver hands upward on every
// successful long-poll: the undecoded registry body plus the response
// metadata Consul attached to it.
type watcherPayload struct {
	raw     interface{}
	headers ConsulHeaders
}

// defaultMaxConsecutiveWatchErrors bounds how many back-to-back
// transport failures the driver tolerates before concluding the
// underlying long-poll is unrecoverable and signalling endCh instead of
// continuing to retry on its own. A single blip is "subsequent
// transport error" territory (spec.md §7); sustained failure is
// "watcher ended" territory, which hands control back to the Monitor
// Core's own retry/backoff loop.
const defaultMaxConsecutiveWatchErrors = 3

// watcherDriver wraps a RegistryClient's blocking long-poll primitive
// (spec.md §4.6). start resolves with the first payload or rejects on
// the first failure; after that, events are delivered on changeCh,
// errorCh, and endCh until stop is called.
type watcherDriver struct {
	client   RegistryClient
	service  string
	timeout  time.Duration
	waitTime time.Duration
	logger   hclog.Logger

	maxConsecutiveErrors int

	changeCh chan watcherPayload
	errorCh  chan error
	endCh    chan struct{}

	mu         sync.Mutex
	running    bool
	lastIndex  uint64
	updateTime time.Time
	headers    ConsulHeaders

	cancel context.CancelFunc
}

func newWatcherDriver(client RegistryClient, service string, timeout, waitTime time.Duration, logger hclog.Logger) *watcherDriver {
	return &watcherDriver{
		client:               client,
		service:              service,
		timeout:              timeout,
		waitTime:             waitTime,
		logger:               logger,
		maxConsecutiveErrors: defaultMaxConsecutiveWatchErrors,
		changeCh:             make(chan watcherPayload),
		errorCh:              make(chan error),
		endCh:                make(chan struct{}),
	}
}

// start performs the first health-service query synchronously. On
// success it records the initial state, spawns the background polling
// loop, and returns the first payload. On failure it returns the error
// without ever marking the driver running.
func (w *watcherDriver) start(ctx context.Context) (*watcherPayload, error) {
	reqCtx, cancel := context.WithTimeout(ctx, w.timeout+w.waitTime)
	defer cancel()

	raw, headers, err := w.client.HealthService(reqCtx, w.service, 0, w.waitTime)
	if err != nil {
		return nil, err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.running = true
	w.lastIndex = headers.LastIndex
	w.updateTime = time.Now()
	w.headers = headers
	w.cancel = loopCancel
	w.mu.Unlock()

	go w.loop(loopCtx)

	return &watcherPayload{raw: raw, headers: headers}, nil
}

func (w *watcherDriver) loop(ctx context.Context) {
	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.Lock()
		waitIndex := w.lastIndex
		w.mu.Unlock()

		reqCtx, cancel := context.WithTimeout(ctx, w.timeout+w.waitTime)
		raw, headers, err := w.client.HealthService(reqCtx, w.service, waitIndex, w.waitTime)
		cancel()

		if ctx.Err() != nil {
			return
		}

		if err != nil {
			consecutiveErrors++
			w.logger.Warn("health-service long-poll failed", "service", w.service, "error", err, "consecutive_errors", consecutiveErrors)
			if !w.send(ctx, w.errorCh, err) {
				return
			}
			if consecutiveErrors >= w.maxConsecutiveErrors {
				w.logger.Error("health-service long-poll exhausted retries, ending", "service", w.service)
				select {
				case w.endCh <- struct{}{}:
				case <-ctx.Done():
				}
				return
			}
			continue
		}

		consecutiveErrors = 0
		w.mu.Lock()
		w.lastIndex = headers.LastIndex
		w.updateTime = time.Now()
		w.headers = headers
		w.mu.Unlock()

		if !w.sendPayload(ctx, watcherPayload{raw: raw, headers: headers}) {
			return
		}
	}
}

func (w *watcherDriver) send(ctx context.Context, ch chan error, err error) bool {
	select {
	case ch <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *watcherDriver) sendPayload(ctx context.Context, p watcherPayload) bool {
	select {
	case w.changeCh <- p:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop cancels the outstanding long-poll and prevents any further
// events from being sent. It is idempotent.
func (w *watcherDriver) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
}

func (w *watcherDriver) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *watcherDriver) lastUpdateTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updateTime
}

func (w *watcherDriver) lastHeaders() ConsulHeaders {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headers
}
