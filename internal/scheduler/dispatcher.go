package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// Dispatcher converts a trigger into per-target bus messages with all-settled
// fan-out accounting: one failed publish reduces successCount but never aborts
// the run.
type Dispatcher struct {
	store       core.Store
	bus         core.Bus
	telemetry   core.Telemetry
	logger      *logger.Logger
	eventSource string
}

func NewDispatcher(store core.Store, bus core.Bus, telemetry core.Telemetry, log *logger.Logger, eventSource string) *Dispatcher {
	return &Dispatcher{
		store:       store,
		bus:         bus,
		telemetry:   telemetry,
		logger:      log.WithComponent("dispatcher"),
		eventSource: eventSource,
	}
}

// message pairs one routed event with the target it was built from.
type message struct {
	exchange string
	queue    string
	topic    string
	targetID string
	event    *types.Event
}

func (d *Dispatcher) Dispatch(ctx context.Context, trigger core.Trigger) (*types.ScheduleRun, error) {
	start := time.Now()
	ctx, span := d.logger.StartOperation(ctx, "dispatcher.Dispatch",
		"scan_type", trigger.Type,
		"cause", trigger.Cause,
		"asset_targets", len(trigger.Assets),
		"source_targets", len(trigger.Sources),
	)
	var dispatchErr error
	defer func() {
		d.logger.FinishOperation(ctx, span, "dispatcher.Dispatch", start, dispatchErr)
	}()

	run := &types.ScheduleRun{CreatedBy: trigger.CreatedBy}
	if trigger.ScheduleID != "" {
		id := trigger.ScheduleID
		run.ScheduleID = &id
	}
	if err := d.store.CreateScheduleRun(ctx, run); err != nil {
		dispatchErr = err
		return nil, err
	}

	targets := len(trigger.Assets) + len(trigger.Sources)

	messages, err := d.buildMessages(trigger, run.ID)
	if err != nil {
		// Construction failed before fan-out: the whole run is failed and
		// the error surfaces to the caller.
		run.Status = types.ScanStatusFailed
		run.FailedCount = targets
		run.Details = types.Metadata{"error": err.Error()}
		if updateErr := d.store.UpdateScheduleRun(ctx, run); updateErr != nil {
			d.logger.LogError(ctx, updateErr, "dispatcher.markFailed", "run_id", run.ID)
		}
		dispatchErr = err
		return run, err
	}

	outcomes := make([]error, len(messages))
	var wg sync.WaitGroup
	for i, msg := range messages {
		wg.Add(1)
		go func(i int, msg message) {
			defer wg.Done()
			outcomes[i] = d.bus.Publish(ctx, msg.exchange, msg.queue, msg.topic, msg.event)
		}(i, msg)
	}
	wg.Wait()

	details := make([]types.Metadata, 0, len(messages))
	for i, msg := range messages {
		outcome := types.Metadata{
			"target_id": msg.targetID,
			"topic":     msg.topic,
			"event_id":  msg.event.ID,
			"success":   outcomes[i] == nil,
		}
		if outcomes[i] != nil {
			outcome["error"] = outcomes[i].Error()
			run.FailedCount++
			d.logger.LogError(ctx, outcomes[i], "dispatcher.publish",
				"run_id", run.ID,
				"target_id", msg.targetID,
				"topic", msg.topic,
			)
		} else {
			run.SuccessCount++
		}
		details = append(details, outcome)
	}

	run.Status = types.ScanStatusSentToQueue
	run.Details = types.Metadata{
		"scan_type": string(trigger.Type),
		"cause":     string(trigger.Cause),
		"targets":   targets,
		"outcomes":  details,
	}
	if err := d.store.UpdateScheduleRun(ctx, run); err != nil {
		dispatchErr = err
		return run, err
	}

	if d.telemetry != nil {
		d.telemetry.RecordDispatch(ctx, trigger.Type, run.SuccessCount, run.FailedCount)
	}

	d.logger.Infow("Schedule run dispatched",
		"run_id", run.ID,
		"scan_type", trigger.Type,
		"success_count", run.SuccessCount,
		"failed_count", run.FailedCount,
	)
	return run, nil
}

// buildMessages derives one routed event per target.
func (d *Dispatcher) buildMessages(trigger core.Trigger, runID string) ([]message, error) {
	var messages []message

	switch trigger.Type {
	case types.ScanTypeAsset:
		if len(trigger.Sources) == 0 {
			return nil, types.NewValidationError("asset scan trigger requires at least one source")
		}
		for _, src := range trigger.Sources {
			payload := types.SourceEventData{
				SourceID:      src.ID,
				SourceName:    src.Name,
				SourceType:    src.Type,
				ScanType:      trigger.Cause,
				ScanCreatedBy: trigger.CreatedBy,
				ScheduleRunID: runID,
				AssetScanID:   trigger.ExistingScanID,
			}
			event, err := types.NewEvent(types.SourceTopic(src.Type, trigger.Cause), d.eventSource, payload)
			if err != nil {
				return nil, err
			}
			messages = append(messages, message{
				exchange: types.ExchangeAsset,
				queue:    types.QueueAsset,
				topic:    event.Type,
				targetID: src.ID,
				event:    event,
			})
		}

	case types.ScanTypeWebappAsset:
		if len(trigger.Assets) == 0 {
			return nil, types.NewValidationError("webapp scan trigger requires at least one asset")
		}
		sourceID := ""
		if len(trigger.Sources) == 1 {
			sourceID = trigger.Sources[0].ID
		}
		for _, asset := range trigger.Assets {
			payload := types.WebappAssetEventData{
				WebappID:      asset.ID,
				ScanType:      trigger.Cause,
				ScanCreatedBy: trigger.CreatedBy,
				ScheduleRunID: runID,
				AssetScanID:   trigger.ExistingScanID,
				SourceID:      sourceID,
			}
			event, err := types.NewEvent(types.WebappTopic(trigger.Cause), d.eventSource, payload)
			if err != nil {
				return nil, err
			}
			messages = append(messages, message{
				exchange: types.ExchangeAsset,
				queue:    types.QueueWebappAsset,
				topic:    event.Type,
				targetID: asset.ID,
				event:    event,
			})
		}

	case types.ScanTypeVulnerability:
		if len(trigger.Assets) == 0 {
			return nil, types.NewValidationError("vulnerability scan trigger requires at least one asset")
		}
		for _, asset := range trigger.Assets {
			payload := types.AssetEventData{
				AssetID:       asset.ID,
				AssetName:     asset.Name,
				AssetType:     asset.Type,
				Profiles:      trigger.Profiles,
				ScanType:      trigger.Cause,
				ScanCreatedBy: trigger.CreatedBy,
				ScheduleRunID: runID,
			}
			event, err := types.NewEvent(types.AssetTopic(asset.Type, trigger.Cause), d.eventSource, payload)
			if err != nil {
				return nil, err
			}
			messages = append(messages, message{
				exchange: types.ExchangeVulnerability,
				queue:    types.QueueVulnerability,
				topic:    event.Type,
				targetID: asset.ID,
				event:    event,
			})
		}

	default:
		return nil, types.NewValidationError(fmt.Sprintf("unsupported trigger type %q", trigger.Type))
	}

	return messages, nil
}
