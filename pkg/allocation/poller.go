package allocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fieldnote/fieldnote/pkg/async"
	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/notify"
	"github.com/fieldnote/fieldnote/pkg/observability"
)

// JobName is the registry name of the push job
const JobName = "survey-allocation-push"

const tracerName = "github.com/fieldnote/fieldnote/pkg/allocation"

// Config controls the push job
type Config struct {
	InitialDelay time.Duration
	Interval     time.Duration
	Throttle     time.Duration
	BatchSize    int
	// Concurrency caps parallel allocations within one run; 0 means no cap
	Concurrency int
}

// DefaultConfig returns the production defaults: first run after 60s, then
// every 60s, at most 100 allocations per run, one reminder per 24h.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 60 * time.Second,
		Interval:     60 * time.Second,
		Throttle:     DefaultThrottle,
		BatchSize:    100,
	}
}

// RunSummary describes one run
type RunSummary struct {
	Selected       int `json:"selected"`
	Pushed         int `json:"pushed"`
	DispatchFailed int `json:"dispatch_failed"`
	Errored        int `json:"errored"`
	Notified       int `json:"notified"`
}

// Poller periodically pushes notifications for due allocations. It keeps its
// job armed in a jobs.Registry: every run re-arms the next one, whatever the
// run's outcome.
type Poller struct {
	store      Store
	dispatcher notify.Dispatcher
	registry   *jobs.Registry
	clock      jobs.Clock
	config     Config
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     trace.Tracer

	mu      sync.Mutex
	ctx     context.Context
	stopped atomic.Bool

	// running admits one RunOnce at a time across scheduled and manual runs
	running sync.Mutex
}

// Option configures a Poller
type Option func(*Poller)

// WithConfig overrides DefaultConfig
func WithConfig(config Config) Option {
	return func(p *Poller) { p.config = config }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics *observability.Metrics) Option {
	return func(p *Poller) { p.metrics = metrics }
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Poller) { p.tracer = tp.Tracer(tracerName) }
}

// NewPoller creates a poller that schedules itself on registry
func NewPoller(store Store, dispatcher notify.Dispatcher, registry *jobs.Registry, opts ...Option) *Poller {
	p := &Poller{
		store:      store,
		dispatcher: dispatcher,
		registry:   registry,
		clock:      registry.Clock(),
		config:     DefaultConfig(),
		logger:     observability.NopLogger(),
		tracer:     otel.Tracer(tracerName),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(p)
	}

	defaults := DefaultConfig()
	if p.config.Interval <= 0 {
		p.config.Interval = defaults.Interval
	}
	if p.config.InitialDelay < 0 {
		p.config.InitialDelay = defaults.InitialDelay
	}
	if p.config.Throttle <= 0 {
		p.config.Throttle = defaults.Throttle
	}
	if p.config.BatchSize <= 0 {
		p.config.BatchSize = defaults.BatchSize
	}

	p.logger = p.logger.WithField("job", JobName)
	return p
}

// Start arms the first run after the initial delay. Runs use ctx; once it is
// done no further run is scheduled.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()
	p.stopped.Store(false)

	p.registry.Schedule(JobName, p.config.InitialDelay, p.tick)
	p.logger.Infof("Allocation push job scheduled in %s", p.config.InitialDelay)
}

// Restart re-arms the job after the initial delay, replacing any pending run.
// The watchdog calls it when the job has gone missing.
func (p *Poller) Restart() {
	if p.stopped.Load() {
		return
	}
	p.registry.Schedule(JobName, p.config.InitialDelay, p.tick)
	p.logger.Warn("Allocation push job restarted")
}

// Stop cancels the pending run. A run in progress finishes but does not re-arm.
func (p *Poller) Stop() {
	p.stopped.Store(true)
	p.registry.Cancel(JobName)
}

func (p *Poller) runContext() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx
}

// tick is the scheduled function. The deferred re-arm runs after the panic
// recovery so a crashing run still schedules the next one.
func (p *Poller) tick() {
	ctx := p.runContext()
	defer p.rearm(ctx)
	defer observability.RecoverPanic(p.logger, "allocation push run")

	if ctx.Err() != nil {
		return
	}
	_, err := p.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		p.logger.Info("Skipping scheduled push run, a manual run is in progress")
	case err != nil:
		p.logger.WithError(err).Error("Allocation push run failed")
	}
}

func (p *Poller) rearm(ctx context.Context) {
	if p.stopped.Load() || ctx.Err() != nil {
		return
	}
	p.registry.Schedule(JobName, p.config.Interval, p.tick)
}

// RunOnce selects due allocations and pushes each of them concurrently.
// Per-allocation failures are counted in the summary and never returned; the
// error is only set when the due allocations could not be loaded, or is
// ErrRunInProgress when another run has not finished yet.
func (p *Poller) RunOnce(ctx context.Context) (RunSummary, error) {
	if !p.running.TryLock() {
		return RunSummary{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	start := p.clock.Now()
	ctx, span := p.tracer.Start(ctx, "allocation.push_run")
	defer span.End()

	var summary RunSummary

	due, err := p.store.ListDue(ctx, start, p.config.Throttle, p.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due allocations")
		p.observeRun("error", start)
		return summary, fmt.Errorf("failed to list due allocations: %w", err)
	}

	summary.Selected = len(due)
	span.SetAttributes(attribute.Int("allocations.selected", len(due)))
	if p.metrics != nil {
		p.metrics.AllocationsSelected.Add(float64(len(due)))
	}

	var notified atomic.Int64
	errs := async.All(ctx, due, p.config.Concurrency, func(ctx context.Context, a Allocation) error {
		n, err := p.processAllocation(ctx, a)
		notified.Add(int64(n))
		return err
	})

	for i, err := range errs {
		logger := p.logger.WithField("allocation_id", due[i].ID)
		switch {
		case err == nil:
			summary.Pushed++
			p.countAllocation("pushed")
		case errors.Is(err, notify.ErrDispatchFailed):
			summary.DispatchFailed++
			p.countAllocation("dispatch_failed")
			logger.WithError(err).Warn("Push not delivered, will retry next run")
		default:
			summary.Errored++
			p.countAllocation("error")
			logger.WithError(err).Error("Failed to process allocation")
		}
	}
	summary.Notified = int(notified.Load())

	span.SetAttributes(
		attribute.Int("allocations.pushed", summary.Pushed),
		attribute.Int("allocations.failed", summary.DispatchFailed+summary.Errored),
	)
	p.observeRun("ok", start)

	if summary.Selected > 0 {
		p.logger.WithFields(map[string]interface{}{
			"selected":        summary.Selected,
			"pushed":          summary.Pushed,
			"dispatch_failed": summary.DispatchFailed,
			"errored":         summary.Errored,
			"notified":        summary.Notified,
		}).Info("Allocation push run finished")
	}

	return summary, nil
}

// processAllocation notifies the unanswered clients of a and stamps PushedAt
// when the dispatch counts as delivered. It returns the number of tokens sent to.
func (p *Poller) processAllocation(ctx context.Context, a Allocation) (int, error) {
	ctx, span := p.tracer.Start(ctx, "allocation.push",
		trace.WithAttributes(
			attribute.Int64("allocation.id", a.ID),
			attribute.Int64("allocation.group_id", a.GroupID),
		),
	)
	defer span.End()

	clients, err := p.store.ListPushableClients(ctx, a.GroupID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	answers, err := p.store.ListAnswers(ctx, a.ID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	tokens := Tokens(Unanswered(clients, answers))
	span.SetAttributes(attribute.Int("notify.tokens", len(tokens)))

	var results []notify.Result
	if len(tokens) > 0 {
		var sendErr error
		results, sendErr = p.dispatcher.Send(ctx, tokens, BuildPayload(a))
		p.countNotifications(results)

		if sendErr != nil {
			span.RecordError(sendErr)
			if len(results) == 0 {
				return 0, fmt.Errorf("allocation %d: %w: %v", a.ID, notify.ErrDispatchFailed, sendErr)
			}
			p.logger.WithError(sendErr).WithField("allocation_id", a.ID).Warn("Partial push failure")
		}
	}

	if !notify.Succeeded(results) {
		totals := notify.Totals(results)
		span.SetStatus(codes.Error, "dispatch failed")
		return len(tokens), fmt.Errorf("allocation %d: %w: %d failures", a.ID, notify.ErrDispatchFailed, totals.Failure)
	}

	if err := p.store.MarkPushed(ctx, a.ID, p.clock.Now()); err != nil {
		span.RecordError(err)
		return len(tokens), err
	}

	return len(tokens), nil
}

func (p *Poller) observeRun(status string, start time.Time) {
	if p.metrics == nil {
		return
	}
	p.metrics.SchedulerRunsTotal.WithLabelValues(status).Inc()
	p.metrics.SchedulerRunDuration.Observe(p.clock.Now().Sub(start).Seconds())
}

func (p *Poller) countAllocation(outcome string) {
	if p.metrics != nil {
		p.metrics.AllocationsPushedTotal.WithLabelValues(outcome).Inc()
	}
}

func (p *Poller) countNotifications(results []notify.Result) {
	if p.metrics == nil {
		return
	}
	totals := notify.Totals(results)
	p.metrics.NotificationsSentTotal.WithLabelValues("success").Add(float64(totals.Success))
	p.metrics.NotificationsSentTotal.WithLabelValues("failure").Add(float64(totals.Failure))
}
