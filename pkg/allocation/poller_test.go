package allocation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnote/fieldnote/pkg/jobs"
	"github.com/fieldnote/fieldnote/pkg/notify"
	"github.com/fieldnote/fieldnote/pkg/observability"
)

type sendCall struct {
	tokens  []string
	payload notify.Payload
}

// fakeDispatcher records sends and answers with respond
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []sendCall
	respond func(tokens []string, payload notify.Payload) ([]notify.Result, error)
}

func (d *fakeDispatcher) Send(_ context.Context, tokens []string, payload notify.Payload) ([]notify.Result, error) {
	d.mu.Lock()
	d.calls = append(d.calls, sendCall{tokens: append([]string(nil), tokens...), payload: payload})
	d.mu.Unlock()

	if d.respond != nil {
		return d.respond(tokens, payload)
	}
	return []notify.Result{{Success: len(tokens)}}, nil
}

func (d *fakeDispatcher) Calls() []sendCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]sendCall(nil), d.calls...)
}

func failAll(tokens []string, _ notify.Payload) ([]notify.Result, error) {
	return []notify.Result{{Failure: len(tokens)}}, nil
}

type harness struct {
	clock      *jobs.ManualClock
	registry   *jobs.Registry
	store      *MemoryStore
	dispatcher *fakeDispatcher
	metrics    *observability.Metrics
	poller     *Poller
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := jobs.NewManualClock(now)
	h := &harness{
		clock:      clock,
		registry:   jobs.NewRegistry(clock),
		store:      NewMemoryStore(),
		dispatcher: &fakeDispatcher{},
		metrics:    observability.NewUnregisteredMetrics(),
	}
	h.poller = NewPoller(h.store, h.dispatcher, h.registry, WithMetrics(h.metrics))
	return h
}

// seedGroup creates the three-client group used by most tests: C1 answered,
// C2 pending, C3 without a token
func (h *harness) seedGroup(groupID, allocationID int64) {
	h.store.PutClient(Client{ID: 1, GroupID: groupID, PushToken: strPtr("t1")})
	h.store.PutClient(Client{ID: 2, GroupID: groupID, PushToken: strPtr("t2")})
	h.store.PutClient(Client{ID: 3, GroupID: groupID})
	h.store.PutAnswer(Answer{ClientID: 1, AllocationID: allocationID, Complete: true})
}

func TestRunOnce_DispatchesToUnansweredClients(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7, SurveyID: 3})
	h.seedGroup(7, 10)

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Selected: 1, Pushed: 1, Notified: 1}, summary)

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"t2"}, calls[0].tokens)
	assert.Equal(t, "New survey", calls[0].payload.Title)

	a, _ := h.store.Allocation(10)
	require.NotNil(t, a.PushedAt)
	assert.Equal(t, now, *a.PushedAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.AllocationsPushedTotal.WithLabelValues("pushed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.NotificationsSentTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SchedulerRunsTotal.WithLabelValues("ok")))
}

func TestRunOnce_FailedDispatchLeavesPushedAt(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.respond = failAll
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DispatchFailed)
	assert.Equal(t, 0, summary.Pushed)

	a, _ := h.store.Allocation(10)
	assert.Nil(t, a.PushedAt)

	// still eligible on the next run
	h.dispatcher.respond = nil
	summary, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed)
	assert.Len(t, h.dispatcher.Calls(), 2)
}

func TestRunOnce_PartialSuccessCounts(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.respond = func(tokens []string, _ notify.Payload) ([]notify.Result, error) {
		return []notify.Result{{Success: 1, Failure: 99}}, nil
	}
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed)
}

func TestRunOnce_TransportErrorWithoutResults(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.respond = func([]string, notify.Payload) ([]notify.Result, error) {
		return nil, errors.New("connection refused")
	}
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.DispatchFailed)

	a, _ := h.store.Allocation(10)
	assert.Nil(t, a.PushedAt)
}

func TestRunOnce_NoRecipientsIsSuccess(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.store.PutClient(Client{ID: 1, GroupID: 7, PushToken: strPtr("t1")})
	h.store.PutAnswer(Answer{ClientID: 1, AllocationID: 10, Complete: true})

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed)
	assert.Empty(t, h.dispatcher.Calls())

	a, _ := h.store.Allocation(10)
	assert.NotNil(t, a.PushedAt)
}

func TestRunOnce_ReminderThrottle(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 1, Type: TypeOneOff, GroupID: 7, PushedAt: ago(2 * time.Hour), DueAt: ago(time.Hour)})
	h.store.PutAllocation(Allocation{ID: 2, Type: TypeOneOff, GroupID: 8, PushedAt: ago(25 * time.Hour), DueAt: ago(time.Hour)})
	h.store.PutClient(Client{ID: 1, GroupID: 7, PushToken: strPtr("t-seven")})
	h.store.PutClient(Client{ID: 2, GroupID: 8, PushToken: strPtr("t-eight")})

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Selected)

	calls := h.dispatcher.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"t-eight"}, calls[0].tokens)
	assert.Equal(t, "Survey reminder", calls[0].payload.Title)

	// once reminded it is throttled again
	summary, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Selected)
}

func TestRunOnce_FailuresAreContained(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.respond = func(tokens []string, _ notify.Payload) ([]notify.Result, error) {
		if tokens[0] == "boom" {
			panic("dispatcher exploded")
		}
		return []notify.Result{{Success: len(tokens)}}, nil
	}
	h.store.PutAllocation(Allocation{ID: 1, Type: TypeOneOff, GroupID: 1})
	h.store.PutAllocation(Allocation{ID: 2, Type: TypeOneOff, GroupID: 2})
	h.store.PutClient(Client{ID: 1, GroupID: 1, PushToken: strPtr("boom")})
	h.store.PutClient(Client{ID: 2, GroupID: 2, PushToken: strPtr("fine")})

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pushed)
	assert.Equal(t, 1, summary.Errored)

	a1, _ := h.store.Allocation(1)
	a2, _ := h.store.Allocation(2)
	assert.Nil(t, a1.PushedAt)
	assert.NotNil(t, a2.PushedAt)
}

type failingStore struct {
	*MemoryStore
	listDueErr error
	clientsErr map[int64]error
}

func (s *failingStore) ListDue(ctx context.Context, at time.Time, throttle time.Duration, limit int) ([]Allocation, error) {
	if s.listDueErr != nil {
		return nil, s.listDueErr
	}
	return s.MemoryStore.ListDue(ctx, at, throttle, limit)
}

func (s *failingStore) ListPushableClients(ctx context.Context, groupID int64) ([]Client, error) {
	if err := s.clientsErr[groupID]; err != nil {
		return nil, err
	}
	return s.MemoryStore.ListPushableClients(ctx, groupID)
}

func TestRunOnce_ConcurrentRunsAreSerialized(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	sending := make(chan struct{})
	release := make(chan struct{})
	h.dispatcher.respond = func(tokens []string, _ notify.Payload) ([]notify.Result, error) {
		close(sending)
		<-release
		return []notify.Result{{Success: len(tokens)}}, nil
	}

	type outcome struct {
		summary RunSummary
		err     error
	}
	first := make(chan outcome, 1)
	go func() {
		summary, err := h.poller.RunOnce(context.Background())
		first <- outcome{summary, err}
	}()

	select {
	case <-sending:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached the dispatcher")
	}

	summary, err := h.poller.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, RunSummary{}, summary)

	close(release)
	result := <-first
	require.NoError(t, result.err)
	assert.Equal(t, 1, result.summary.Pushed)
	assert.Len(t, h.dispatcher.Calls(), 1)

	// the lock is released once the run returns
	summary, err = h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Selected)
	assert.Len(t, h.dispatcher.Calls(), 1)
}

func TestRunOnce_StoreErrors(t *testing.T) {
	mem := NewMemoryStore()
	mem.PutAllocation(Allocation{ID: 1, Type: TypeOneOff, GroupID: 1})
	mem.PutAllocation(Allocation{ID: 2, Type: TypeOneOff, GroupID: 2})
	store := &failingStore{MemoryStore: mem, clientsErr: map[int64]error{1: errors.New("db timeout")}}

	metrics := observability.NewUnregisteredMetrics()
	p := NewPoller(store, &fakeDispatcher{}, jobs.NewRegistry(jobs.NewManualClock(now)), WithMetrics(metrics))

	summary, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Selected: 2, Pushed: 1, Errored: 1}, summary)

	store.listDueErr = errors.New("db down")
	_, err = p.RunOnce(context.Background())
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SchedulerRunsTotal.WithLabelValues("error")))
}

func TestRunOnce_BatchLimit(t *testing.T) {
	h := newHarness(t)
	h.poller = NewPoller(h.store, h.dispatcher, h.registry, WithConfig(Config{BatchSize: 2}))
	for id := int64(1); id <= 5; id++ {
		h.store.PutAllocation(Allocation{ID: id, Type: TypeOneOff, GroupID: id})
	}

	summary, err := h.poller.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Selected)
	assert.Equal(t, time.Minute, h.poller.config.Interval)
}

func TestPoller_SchedulesAndRearms(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	h.poller.Start(context.Background())
	assert.True(t, h.registry.Exists(JobName))

	h.clock.Advance(59 * time.Second)
	assert.Empty(t, h.dispatcher.Calls())

	h.clock.Advance(time.Second)
	assert.Len(t, h.dispatcher.Calls(), 1)
	assert.True(t, h.registry.Exists(JobName), "run must re-arm itself")

	// pushed allocations are not selected again, but the job keeps running
	h.clock.Advance(5 * time.Minute)
	assert.Len(t, h.dispatcher.Calls(), 1)
	assert.True(t, h.registry.Exists(JobName))
	assert.Equal(t, 1, h.clock.Pending())
}

func TestPoller_RearmsAfterPanickingRun(t *testing.T) {
	h := newHarness(t)
	store := &panickingStore{MemoryStore: h.store}
	p := NewPoller(store, h.dispatcher, h.registry)

	p.Start(context.Background())
	h.clock.Advance(time.Minute)
	assert.Equal(t, 1, store.calls)
	assert.True(t, h.registry.Exists(JobName))

	h.clock.Advance(time.Minute)
	assert.Equal(t, 2, store.calls)
}

type panickingStore struct {
	*MemoryStore
	calls int
}

func (s *panickingStore) ListDue(context.Context, time.Time, time.Duration, int) ([]Allocation, error) {
	s.calls++
	panic("query builder bug")
}

func TestPoller_StopAndContext(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	h.poller.Start(context.Background())
	h.poller.Stop()
	assert.False(t, h.registry.Exists(JobName))

	h.clock.Advance(10 * time.Minute)
	assert.Empty(t, h.dispatcher.Calls())

	// restart is ignored while stopped
	h.poller.Restart()
	assert.False(t, h.registry.Exists(JobName))

	ctx, cancel := context.WithCancel(context.Background())
	h.poller.Start(ctx)
	cancel()
	h.clock.Advance(time.Minute)
	assert.Empty(t, h.dispatcher.Calls())
	assert.False(t, h.registry.Exists(JobName))
}

func TestPoller_WatchdogRestartsDeadJob(t *testing.T) {
	h := newHarness(t)
	h.store.PutAllocation(Allocation{ID: 10, Type: TypeOneOff, GroupID: 7})
	h.seedGroup(7, 10)

	watchdog := jobs.NewWatchdog(h.registry, JobName, h.poller.Restart, jobs.WithMetrics(h.metrics))

	h.poller.Start(context.Background())
	assert.False(t, watchdog.Check())

	// simulate the timer silently disappearing
	h.registry.Cancel(JobName)
	assert.True(t, watchdog.Check())
	assert.True(t, h.registry.Exists(JobName))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.WatchdogRestartsTotal))

	h.clock.Advance(time.Minute)
	assert.Len(t, h.dispatcher.Calls(), 1)
}
