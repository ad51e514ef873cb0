package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/fieldnote/fieldnote/pkg/observability"
)

// DefaultWatchdogSchedule checks the watched job every 15 minutes
const DefaultWatchdogSchedule = "@every 15m"

// Watchdog periodically verifies that a named job is registered and
// restarts it when it has gone missing.
type Watchdog struct {
	registry *Registry
	name     string
	restart  func()
	schedule string
	logger   *observability.Logger
	metrics  *observability.Metrics
	cron     *cron.Cron
}

// WatchdogOption configures a Watchdog
type WatchdogOption func(*Watchdog)

// WithSchedule overrides the cron schedule (robfig/cron syntax, e.g. "@every 5m")
func WithSchedule(spec string) WatchdogOption {
	return func(w *Watchdog) { w.schedule = spec }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) WatchdogOption {
	return func(w *Watchdog) { w.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) WatchdogOption {
	return func(w *Watchdog) { w.metrics = metrics }
}

// NewWatchdog creates a watchdog for name. restart is called when the job is missing.
func NewWatchdog(registry *Registry, name string, restart func(), opts ...WatchdogOption) *Watchdog {
	w := &Watchdog{
		registry: registry,
		name:     name,
		restart:  restart,
		schedule: DefaultWatchdogSchedule,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Check restarts the watched job if it is neither pending nor running.
// It returns true when a restart happened.
func (w *Watchdog) Check() bool {
	if w.registry.Exists(w.name) {
		w.logger.WithField("job", w.name).Debug("Watchdog check passed")
		return false
	}

	w.logger.WithField("job", w.name).Warn("Scheduled job missing, restarting it")
	if w.metrics != nil {
		w.metrics.WatchdogRestartsTotal.Inc()
	}

	func() {
		defer observability.RecoverPanic(w.logger, "watchdog restart")
		w.restart()
	}()

	return true
}

// Start begins the periodic checks
func (w *Watchdog) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(w.schedule, func() { w.Check() }); err != nil {
		return fmt.Errorf("invalid watchdog schedule %q: %w", w.schedule, err)
	}
	w.cron = c
	c.Start()

	w.logger.WithField("job", w.name).Infof("Watchdog started with schedule %s", w.schedule)
	return nil
}

// Stop halts the periodic checks and waits for a running check to finish
func (w *Watchdog) Stop(ctx context.Context) error {
	if w.cron == nil {
		return nil
	}

	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
