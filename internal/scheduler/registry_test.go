package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/bus"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

type fakeClock struct {
	mu      sync.Mutex
	tickers []*fakeTicker
}

func (c *fakeClock) Now() time.Time {
	return time.Now()
}

func (c *fakeClock) NewTicker(d time.Duration) core.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tickers {
		if !t.stopped {
			t.ch <- time.Now()
		}
	}
}

type fakeTicker struct {
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }

type blockingDispatcher struct {
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, trigger core.Trigger) (*types.ScheduleRun, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	if d.release != nil {
		<-d.release
	}
	return &types.ScheduleRun{ID: "run", Status: types.ScanStatusSentToQueue}, nil
}

func (d *blockingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestRegistryStartRehydratesTimers(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	source := &types.Source{Name: "aws", Type: types.SourceTypeAWS, Active: true}
	require.NoError(t, store.SaveSource(ctx, source))

	sched := &types.Schedule{
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 60,
		SourceIDs:       []string{source.ID},
		Active:          true,
		CreatedBy:       "admin",
	}
	require.NoError(t, store.SaveSchedule(ctx, sched))

	memBus := bus.NewMemoryBus()
	clock := &fakeClock{}
	registry := NewRegistry(store, NewDispatcher(store, memBus, nil, testLogger(t), "test"), clock, testLogger(t))
	defer registry.Stop()

	require.NoError(t, registry.Start(ctx))
	require.Len(t, clock.tickers, 1)

	// Restart is idempotent: no second timer for the same schedule.
	require.NoError(t, registry.Start(ctx))
	assert.Len(t, clock.tickers, 1)

	clock.tick()
	require.Eventually(t, func() bool {
		return len(memBus.Published()) == 1
	}, time.Second, 10*time.Millisecond)

	published := memBus.Published()
	assert.Equal(t, "source.aws.added", published[0].Topic)
}

func TestRegistryTickErrorsDoNotStopTicker(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// Schedule whose only source does not exist: every tick fails to
	// resolve any target and the dispatch errors, but ticking continues.
	sched := &types.Schedule{
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 60,
		SourceIDs:       []string{"missing"},
		Active:          true,
	}
	require.NoError(t, store.SaveSchedule(ctx, sched))

	memBus := bus.NewMemoryBus()
	clock := &fakeClock{}
	dispatcher := NewDispatcher(store, memBus, nil, testLogger(t), "test")
	registry := NewRegistry(store, dispatcher, clock, testLogger(t))
	defer registry.Stop()

	require.NoError(t, registry.Start(ctx))

	clock.tick()
	clock.tick()
	// Nothing published, no panic, ticker still alive.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, memBus.Published())
}

func TestRegistryUnregisterUnknownIsNoop(t *testing.T) {
	store := testStore(t)
	registry := NewRegistry(store, &blockingDispatcher{}, &fakeClock{}, testLogger(t))
	registry.Unregister("does-not-exist")
}

func TestRegistryRejectsNonPositiveInterval(t *testing.T) {
	store := testStore(t)
	registry := NewRegistry(store, &blockingDispatcher{}, &fakeClock{}, testLogger(t))

	err := registry.Register(context.Background(), &types.Schedule{ID: "s1", IntervalSeconds: 0})
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.CodeOf(err))
}

func TestRegistryInFlightGuardSkipsOverlappingTick(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sched := &types.Schedule{
		ID:              "sched-1",
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 60,
		Active:          true,
	}

	clock := &fakeClock{}
	dispatcher := &blockingDispatcher{release: make(chan struct{})}
	registry := NewRegistry(store, dispatcher, clock, testLogger(t))
	defer registry.Stop()

	require.NoError(t, registry.Register(ctx, sched))

	clock.tick()
	require.Eventually(t, func() bool { return dispatcher.count() == 1 }, time.Second, 10*time.Millisecond)

	// Second tick while the first dispatch is still blocked gets skipped.
	clock.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, dispatcher.count())

	close(dispatcher.release)
}

func TestRegistryTriggerNowDispatchesWithCause(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	source := &types.Source{Name: "seed", Type: types.SourceTypeManual, Active: true}
	require.NoError(t, store.SaveSource(ctx, source))

	sched := &types.Schedule{
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 3600,
		SourceIDs:       []string{source.ID},
		Active:          true,
		CreatedBy:       "admin",
	}
	require.NoError(t, store.SaveSchedule(ctx, sched))

	memBus := bus.NewMemoryBus()
	registry := NewRegistry(store, NewDispatcher(store, memBus, nil, testLogger(t), "test"), &fakeClock{}, testLogger(t))

	run, err := registry.TriggerNow(ctx, sched.ID, types.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, run.SuccessCount)

	published := memBus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "source.manual.added", published[0].Topic)

	_, err = registry.TriggerNow(ctx, "missing", types.TriggerManual)
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestRegistryApplyDeactivation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	sched := &types.Schedule{
		ID:              "sched-1",
		Type:            types.ScanTypeAsset,
		IntervalSeconds: 60,
		Active:          true,
	}

	clock := &fakeClock{}
	dispatcher := &blockingDispatcher{}
	registry := NewRegistry(store, dispatcher, clock, testLogger(t))
	defer registry.Stop()

	require.NoError(t, registry.Register(ctx, sched))

	sched.Active = false
	require.NoError(t, registry.Apply(ctx, sched))

	// Ticks after deactivation reach no dispatcher.
	clock.tick()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, dispatcher.count())
}
