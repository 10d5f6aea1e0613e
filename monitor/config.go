package monitor

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
)

const (
	defaultTimeoutMsec      = 5000
	defaultWaitTime         = 60 * time.Second
	defaultRetryDelay       = 1000 * time.Millisecond
	defaultFallbackInterval = 1000 * time.Millisecond
)

// Config configures one Monitor (spec.md §6 "Configuration options").
type Config struct {
	// ServiceName selects the registry service to watch. Required.
	ServiceName string
	// StatusCheckName selects the check whose output carries the
	// embedded application status. Required.
	StatusCheckName string
	// TimeoutMsec bounds how long a single long-poll round trip (on top
	// of the mandatory 60s wait window) may take before it is treated as
	// a transport failure. Defaults to 5000.
	TimeoutMsec int
	// Extractors runs, in order, against the parsed embedded status
	// payload. Leave nil to never inspect the embedded payload at all
	// (bucket membership then falls back to plain check-passing).
	Extractors []NamedExtractor
	// StrictStatusConsistency enables the cross-consistency checks of
	// spec.md §4.4 step 5 (an extra InvalidData when the embedded status
	// disagrees with the status check's own passing/critical state).
	// Defaults to true; see SPEC_FULL.md §9 for the rationale.
	StrictStatusConsistency *bool
	// RetryDelay is the constant back-off between StartService retries
	// after the watcher ends unrecoverably. Defaults to 1000ms.
	RetryDelay time.Duration
	// FallbackInterval is how often the fallback healer samples the
	// watcher's update time while unhealthy. Defaults to 1000ms.
	FallbackInterval time.Duration
	// WaitTime is the long-poll wait window. Defaults to 60s; only
	// exposed so tests don't have to wait a real minute per iteration.
	WaitTime time.Duration
	// Logger receives structured logging of the watcher's long-poll
	// failures (each failure, and the end of the watch after repeated
	// failures). Defaults to a discarding hclog.Logger.
	Logger hclog.Logger
}

func (c Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("monitor: ServiceName is required")
	}
	if c.StatusCheckName == "" {
		return fmt.Errorf("monitor: StatusCheckName is required")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.TimeoutMsec <= 0 {
		c.TimeoutMsec = defaultTimeoutMsec
	}
	if c.WaitTime <= 0 {
		c.WaitTime = defaultWaitTime
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.FallbackInterval <= 0 {
		c.FallbackInterval = defaultFallbackInterval
	}
	if c.StrictStatusConsistency == nil {
		strict := true
		c.StrictStatusConsistency = &strict
	}
	if c.Logger == nil {
		c.Logger = hclog.NewNullLogger()
	}
	return c
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.TimeoutMsec) * time.Millisecond
}

func (c Config) strict() bool {
	return c.StrictStatusConsistency != nil && *c.StrictStatusConsistency
}
