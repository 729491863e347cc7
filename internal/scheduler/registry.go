package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Registry owns one repeating timer per active schedule. It is an explicit
// struct with an injected clock rather than process-global state, so tests can
// drive ticks deterministically.
type Registry struct {
	store      core.Store
	dispatcher core.Dispatcher
	clock      core.Clock
	logger     *logger.Logger

	mu     sync.Mutex
	timers map[string]*timerHandle
}

type timerHandle struct {
	ticker   core.Ticker
	done     chan struct{}
	inFlight atomic.Bool
}

func NewRegistry(store core.Store, dispatcher core.Dispatcher, clock core.Clock, log *logger.Logger) *Registry {
	return &Registry{
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		logger:     log.WithComponent("scheduler"),
		timers:     make(map[string]*timerHandle),
	}
}

// Start rehydrates timers from persisted state. Registration is idempotent:
// schedules that already have a timer are skipped, so a repeated Start after a
// partial boot is safe.
func (r *Registry) Start(ctx context.Context) error {
	schedules, err := r.store.ListActiveSchedules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedules: %w", err)
	}

	registered := 0
	for _, schedule := range schedules {
		r.mu.Lock()
		_, exists := r.timers[schedule.ID]
		r.mu.Unlock()
		if exists {
			continue
		}
		if err := r.Register(ctx, schedule); err != nil {
			r.logger.LogError(ctx, err, "scheduler.Start.register", "schedule_id", schedule.ID)
			continue
		}
		registered++
	}

	r.logger.Infow("Schedule registry started",
		"schedules_loaded", len(schedules),
		"timers_registered", registered,
	)
	return nil
}

// Register installs the repeating timer for a schedule, cancelling any
// existing timer for the same id first.
func (r *Registry) Register(ctx context.Context, schedule *types.Schedule) error {
	if schedule.IntervalSeconds <= 0 {
		return types.NewValidationError(fmt.Sprintf(
			"schedule %s has non-positive interval %d", schedule.ID, schedule.IntervalSeconds))
	}

	r.Unregister(schedule.ID)

	handle := &timerHandle{
		ticker: r.clock.NewTicker(time.Duration(schedule.IntervalSeconds) * time.Second),
		done:   make(chan struct{}),
	}

	r.mu.Lock()
	r.timers[schedule.ID] = handle
	r.mu.Unlock()

	go r.runTimer(ctx, schedule, handle)

	r.logger.Infow("Schedule registered",
		"schedule_id", schedule.ID,
		"scan_type", schedule.Type,
		"interval_seconds", schedule.IntervalSeconds,
	)
	return nil
}

// Unregister stops and removes the timer; an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	handle, ok := r.timers[id]
	if ok {
		delete(r.timers, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	handle.ticker.Stop()
	close(handle.done)
	r.logger.Infow("Schedule unregistered", "schedule_id", id)
}

// Apply reconciles a mutated schedule with its timer: deactivation removes
// it, anything else re-registers with fresh parameters.
func (r *Registry) Apply(ctx context.Context, schedule *types.Schedule) error {
	if !schedule.Active || schedule.Deleted {
		r.Unregister(schedule.ID)
		return nil
	}
	return r.Register(ctx, schedule)
}

// Stop cancels all timers.
func (r *Registry) Stop() {
	r.mu.Lock()
	handles := make(map[string]*timerHandle, len(r.timers))
	for id, h := range r.timers {
		handles[id] = h
	}
	r.timers = make(map[string]*timerHandle)
	r.mu.Unlock()

	for id, handle := range handles {
		handle.ticker.Stop()
		close(handle.done)
		r.logger.Debugw("Schedule timer stopped", "schedule_id", id)
	}
}

// TriggerNow dispatches a schedule immediately, outside its timer cadence.
// Targets are resolved fresh the same way a tick resolves them.
func (r *Registry) TriggerNow(ctx context.Context, scheduleID string, cause types.TriggerCause) (*types.ScheduleRun, error) {
	schedule, err := r.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}

	trigger, err := r.resolveTrigger(ctx, schedule)
	if err != nil {
		return nil, err
	}
	if cause != "" {
		trigger.Cause = cause
	}
	return r.dispatcher.Dispatch(ctx, trigger)
}

func (r *Registry) runTimer(ctx context.Context, schedule *types.Schedule, handle *timerHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-handle.done:
			return
		case <-handle.ticker.C():
			// In-flight guard: a tick that fires while the previous
			// dispatch is still running is skipped, not queued.
			if !handle.inFlight.CompareAndSwap(false, true) {
				r.logger.Warnw("Skipping overlapping schedule tick",
					"schedule_id", schedule.ID)
				continue
			}
			go func() {
				defer handle.inFlight.Store(false)
				r.fire(ctx, schedule)
			}()
		}
	}
}

// fire resolves the schedule's targets fresh and dispatches one run. Errors
// are logged and swallowed so a failed tick never stops future ticks.
func (r *Registry) fire(ctx context.Context, schedule *types.Schedule) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.LogPanic(ctx, rec, "scheduler.fire", "schedule_id", schedule.ID)
		}
	}()

	trigger, err := r.resolveTrigger(ctx, schedule)
	if err != nil {
		r.logger.LogError(ctx, err, "scheduler.fire.resolve", "schedule_id", schedule.ID)
		return
	}

	run, err := r.dispatcher.Dispatch(ctx, trigger)
	if err != nil {
		r.logger.LogError(ctx, err, "scheduler.fire.dispatch", "schedule_id", schedule.ID)
		return
	}

	r.logger.Debugw("Schedule tick dispatched",
		"schedule_id", schedule.ID,
		"run_id", run.ID,
		"success_count", run.SuccessCount,
		"failed_count", run.FailedCount,
	)
}

func (r *Registry) resolveTrigger(ctx context.Context, schedule *types.Schedule) (core.Trigger, error) {
	trigger := core.Trigger{
		Type:       schedule.Type,
		Cause:      types.TriggerScheduled,
		ScheduleID: schedule.ID,
		Profiles:   schedule.Profiles,
		CreatedBy:  schedule.CreatedBy,
	}

	if len(schedule.AssetIDs) > 0 {
		assets, err := r.store.GetAssetsByIDs(ctx, schedule.AssetIDs)
		if err != nil {
			return trigger, err
		}
		trigger.Assets = assets
	}
	for _, sourceID := range schedule.SourceIDs {
		source, err := r.store.GetSource(ctx, sourceID)
		if err != nil {
			// Deleted sources fall out of the target set instead of
			// poisoning the whole tick.
			if types.CodeOf(err) == types.ErrNotFound {
				r.logger.Warnw("Schedule target source missing",
					"schedule_id", schedule.ID, "source_id", sourceID)
				continue
			}
			return trigger, err
		}
		trigger.Sources = append(trigger.Sources, source)
	}

	return trigger, nil
}
