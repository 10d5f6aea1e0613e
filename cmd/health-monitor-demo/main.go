// Command health-monitor-demo watches a single Consul service and prints
// bucket transitions to stdout. It is a thin wiring exercise for the
// monitor package, not a production agent.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/hashicorp/go-hclog"

	"github.com/LCMApps/consul-service-health-monitor/monitor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	serviceName := flag.String("service", "", "Consul service name to watch")
	statusCheckName := flag.String("status-check", "", "name of the health check carrying the embedded status payload")
	logLevel := flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	if *serviceName == "" || *statusCheckName == "" {
		return fmt.Errorf("-service and -status-check are required")
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "health-monitor-demo",
		Level: hclog.LevelFromString(*logLevel),
	})

	client, err := monitor.NewConsulRegistryClient(consulapi.DefaultConfig())
	if err != nil {
		return fmt.Errorf("build registry client: %w", err)
	}

	m, err := monitor.NewMonitor(client, monitor.Config{
		ServiceName:     *serviceName,
		StatusCheckName: *statusCheckName,
		Extractors:      monitor.DefaultExtractors(),
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build monitor: %w", err)
	}

	m.Subscribe(monitor.SubscriberFuncs{
		OnInitialized: func() { logger.Info("watch initialized") },
		OnChanged: func(set *monitor.InstanceSet) {
			logger.Info("instances changed",
				"healthy", len(set.Healthy()),
				"overloaded", len(set.Overloaded()),
				"on_maintenance", len(set.OnMaintenance()),
				"unhealthy", len(set.Unhealthy()),
			)
		},
		OnError:     func(err error) { logger.Warn("watch error", "error", err) },
		OnHealthy:   func() { logger.Info("watch is healthy") },
		OnUnhealthy: func() { logger.Warn("watch is unhealthy") },
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initial, err := m.StartService(ctx)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	logger.Info("initial snapshot", "healthy", len(initial.Healthy()), "unhealthy", len(initial.Unhealthy()))

	<-ctx.Done()
	logger.Info("shutting down")
	m.StopService()
	return nil
}
