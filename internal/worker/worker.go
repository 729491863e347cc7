// Package worker hosts the discovery pipeline consumers: source discovery on
// the asset queue and webapp sub-scans on the webapp-asset queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/assets"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/toolrunner"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/tools"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

// ToolRunner is the invocation surface the worker needs; satisfied by
// toolrunner.Runner and stubbed in tests.
type ToolRunner interface {
	Run(ctx context.Context, inv toolrunner.Invocation, output interface{}) error
	RunBatch(ctx context.Context, tool string, inputs []interface{}) ([]json.RawMessage, error)
}

// Worker consumes discovery events and drives the pipeline stages for each.
// Both queues are handled as independent consumers; within one message the
// stage order is strict.
type Worker struct {
	store     core.Store
	bus       core.Bus
	builder   *assets.Builder
	runner    ToolRunner
	telemetry core.Telemetry
	logger    *logger.Logger
	cfg       config.WorkerConfig
}

func New(store core.Store, bus core.Bus, builder *assets.Builder, runner ToolRunner,
	telemetry core.Telemetry, cfg config.WorkerConfig, log *logger.Logger) *Worker {
	if cfg.APIBatchSize <= 0 {
		cfg.APIBatchSize = 20
	}
	return &Worker{
		store:     store,
		bus:       bus,
		builder:   builder,
		runner:    runner,
		telemetry: telemetry,
		logger:    log.WithComponent("worker"),
		cfg:       cfg,
	}
}

// Start subscribes both consumers. Consumption continues until ctx is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.bus.Subscribe(ctx, types.QueueAsset, []string{"source.*.*"}, w.HandleSourceEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", types.QueueAsset, err)
	}
	if err := w.bus.Subscribe(ctx, types.QueueWebappAsset, []string{"webapp.*"}, w.HandleWebappEvent); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", types.QueueWebappAsset, err)
	}
	w.logger.Infow("Discovery worker started",
		"queues", []string{types.QueueAsset, types.QueueWebappAsset})
	return nil
}

// HandleSourceEvent runs source discovery for one event: cloud sources go
// through provider enumeration, everything else through the generic
// netdiscover/portscan/webprobe chain.
func (w *Worker) HandleSourceEvent(ctx context.Context, event *types.Event) error {
	var payload types.SourceEventData
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return types.NewValidationError("undecodable source event payload: " + err.Error())
	}

	log := w.logger.WithFields(
		"event_id", event.ID,
		"source_id", payload.SourceID,
		"schedule_run_id", payload.ScheduleRunID,
	)

	scan, err := w.resolveScan(ctx, payload.AssetScanID, types.ScanTypeAsset,
		payload.ScanType, payload.ScheduleRunID, payload.SourceID)
	if err != nil {
		return err
	}
	log = log.WithScanID(scan.ID)
	log.Infow("Source discovery started", "source_type", payload.SourceType)

	count, err := w.discoverSource(ctx, log, payload, scan)
	scan.AssetCount = count
	return w.finishScan(ctx, log, scan, types.WrapInternal("source discovery", err))
}

// HandleWebappEvent runs the webapp sub-scan pipeline for one event.
func (w *Worker) HandleWebappEvent(ctx context.Context, event *types.Event) error {
	var payload types.WebappAssetEventData
	if err := json.Unmarshal(event.Data, &payload); err != nil {
		return types.NewValidationError("undecodable webapp event payload: " + err.Error())
	}

	log := w.logger.WithFields(
		"event_id", event.ID,
		"webapp_id", payload.WebappID,
		"schedule_run_id", payload.ScheduleRunID,
	)

	scan, err := w.resolveScan(ctx, payload.AssetScanID, types.ScanTypeWebappAsset,
		payload.ScanType, payload.ScheduleRunID, payload.SourceID)
	if err != nil {
		return err
	}
	log = log.WithScanID(scan.ID)
	log.Infow("Webapp sub-scan started")

	count, err := w.scanWebapp(ctx, log, payload, scan)
	scan.AssetCount = count
	return w.finishScan(ctx, log, scan, types.WrapInternal("webapp sub-scan", err))
}

// resolveScan loads the existing scan when the event carries one (multi-stage
// pipelines reuse one scan id) or creates a fresh PENDING record, then moves
// it to IN_PROGRESS.
func (w *Worker) resolveScan(ctx context.Context, existingID string, scanType types.ScanType,
	cause types.TriggerCause, scheduleRunID, sourceID string) (*types.AssetScan, error) {

	now := time.Now().UTC()

	if existingID != "" {
		scan, err := w.store.GetAssetScan(ctx, existingID)
		if err != nil {
			return nil, err
		}
		if scan.Status != types.ScanStatusInProgress {
			scan.Status = types.ScanStatusInProgress
			if scan.StartedAt == nil {
				scan.StartedAt = &now
			}
			if err := w.store.UpdateAssetScan(ctx, scan); err != nil {
				return nil, err
			}
		}
		return scan, nil
	}

	scan := &types.AssetScan{
		Status:    types.ScanStatusPending,
		Type:      scanType,
		Cause:     cause,
		StartedAt: &now,
	}
	if scheduleRunID != "" {
		scan.ScheduleRunID = &scheduleRunID
	}
	if sourceID != "" {
		scan.SourceID = &sourceID
	}
	if err := w.store.CreateAssetScan(ctx, scan); err != nil {
		return nil, err
	}

	scan.Status = types.ScanStatusInProgress
	if err := w.store.UpdateAssetScan(ctx, scan); err != nil {
		return nil, err
	}
	return scan, nil
}

// finishScan records the terminal status. Failures are timed like successes;
// the original error is returned to the bus layer unchanged.
func (w *Worker) finishScan(ctx context.Context, log *logger.Logger, scan *types.AssetScan, pipelineErr error) error {
	now := time.Now().UTC()
	scan.FinishedAt = &now

	if pipelineErr != nil {
		scan.Status = types.ScanStatusFailed
		scan.Error = pipelineErr.Error()
		log.Errorw("Scan failed", "error", pipelineErr)
	} else {
		scan.Status = types.ScanStatusCompleted
		log.Infow("Scan completed", "asset_count", scan.AssetCount)
	}

	if err := w.store.UpdateAssetScan(ctx, scan); err != nil {
		log.Errorw("Failed to persist scan outcome", "error", err)
	}

	duration := time.Duration(0)
	if scan.StartedAt != nil {
		duration = now.Sub(*scan.StartedAt)
	}
	w.telemetry.RecordScan(ctx, scan.Type, scan.Status, duration)

	return pipelineErr
}

func (w *Worker) discoverSource(ctx context.Context, log *logger.Logger, payload types.SourceEventData, scan *types.AssetScan) (int, error) {
	source, err := w.store.GetSource(ctx, payload.SourceID)
	if err != nil {
		return 0, err
	}
	scan.SourceCount = 1

	origin := assets.Origin{SourceID: source.ID, Actor: payload.ScanCreatedBy}
	if source.Type.Cloud() {
		return w.discoverCloud(ctx, log, source, origin)
	}
	return w.discoverGeneric(ctx, log, source, origin)
}

// discoverCloud pulls every provider resource and builds SERVICE assets with
// their implied children. Credentials are checked here, before any child
// process is spawned.
func (w *Worker) discoverCloud(ctx context.Context, log *logger.Logger, source *types.Source, origin assets.Origin) (int, error) {
	if err := source.Credentials.Validate(); err != nil {
		return 0, err
	}

	var enum tools.CloudEnumOutput
	err := w.runner.Run(ctx, toolrunner.Invocation{
		Tool: tools.NameCloudEnum,
		Input: tools.CloudEnumInput{
			Provider:    source.Type,
			Credentials: source.Credentials,
		},
	}, &enum)
	if err != nil {
		return 0, err
	}
	log.Infow("Cloud enumeration returned", "resources", len(enum.Resources))

	built := 0
	for _, res := range enum.Resources {
		if _, err := w.builder.BuildCloudResource(ctx, res, origin); err != nil {
			return built, fmt.Errorf("failed to build resource %s: %w", res.Key, err)
		}
		built++
	}
	return built, nil
}

// discoverGeneric runs the netdiscover, portscan, webprobe chain, each stage
// feeding the next, then persists the results through the builder.
func (w *Worker) discoverGeneric(ctx context.Context, log *logger.Logger, source *types.Source, origin assets.Origin) (int, error) {
	seed := source.ExternalID
	if seed == "" {
		seed = source.Name
	}
	if seed == "" {
		return 0, types.NewValidationError("source has no discovery seed")
	}

	var discovered tools.NetDiscoverOutput
	err := w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameNetDiscover,
		Input: tools.NetDiscoverInput{Hostnames: []string{seed}},
	}, &discovered)
	if err != nil {
		return 0, err
	}
	log.Infow("Network discovery returned", "hosts", len(discovered.Hosts))
	if len(discovered.Hosts) == 0 {
		return 0, nil
	}

	inputs := make([]interface{}, len(discovered.Hosts))
	for i, host := range discovered.Hosts {
		inputs[i] = tools.PortScanInput{Host: host}
	}
	scans, err := w.runner.RunBatch(ctx, tools.NamePortScan, inputs)
	if err != nil {
		return 0, err
	}

	var candidates []tools.ProbeTarget
	for _, raw := range scans {
		var result tools.PortScanOutput
		if err := json.Unmarshal(raw, &result); err != nil {
			return 0, types.NewToolError(tools.NamePortScan, fmt.Errorf("undecodable result: %w", err))
		}
		for _, port := range result.Ports {
			candidates = append(candidates, tools.ProbeTarget{Host: result.Host, Port: port.Port})
		}
	}

	built := 0
	for _, host := range discovered.Hosts {
		if _, err := w.builder.EnsureHost(ctx, host, origin); err != nil {
			log.Warnw("Skipping unclassifiable host", "host", host, "error", err)
			continue
		}
		built++
	}

	if len(candidates) == 0 {
		return built, nil
	}

	var probed tools.WebProbeOutput
	err = w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameWebProbe,
		Input: tools.WebProbeInput{Targets: candidates},
	}, &probed)
	if err != nil {
		return built, err
	}

	for _, webapp := range probed.Webapps {
		if _, err := w.builder.EnsureWebapp(ctx, webapp.Host, webapp.Port, webapp.Scheme, origin); err != nil {
			log.Warnw("Skipping webapp candidate",
				"host", webapp.Host, "port", webapp.Port, "error", err)
			continue
		}
		built++
	}

	log.Infow("Generic discovery finished",
		"hosts", len(discovered.Hosts), "webapps", len(probed.Webapps))
	return built, nil
}

func (w *Worker) scanWebapp(ctx context.Context, log *logger.Logger, payload types.WebappAssetEventData, scan *types.AssetScan) (int, error) {
	webapp, err := w.store.GetAsset(ctx, payload.WebappID)
	if err != nil {
		return 0, err
	}
	if webapp.Type != types.AssetTypeWebapp {
		return 0, types.NewValidationError(fmt.Sprintf("asset %s is not a webapp", payload.WebappID))
	}

	host, port, err := webappAddress(webapp)
	if err != nil {
		return 0, err
	}

	origin := assets.Origin{SourceID: payload.SourceID, Actor: payload.ScanCreatedBy}

	// A target that no longer answers is a hard failure for the whole
	// sub-scan, not a soft skip.
	probe, err := w.revalidate(ctx, host, port)
	if err != nil {
		return 0, err
	}
	targetURL := probe.URL

	if err := w.captureScreenshot(ctx, log, webapp, scan, targetURL); err != nil {
		return 0, err
	}

	var crawl tools.CrawlOutput
	err = w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameCrawler,
		Input: tools.CrawlInput{URL: targetURL},
	}, &crawl)
	if err != nil {
		return 0, err
	}
	// Intermediate crawl output is removed on every exit path; failures
	// here are logged, not fatal.
	defer func() {
		if err := os.RemoveAll(crawl.Dir); err != nil {
			log.Warnw("Failed to clean crawl output", "dir", crawl.Dir, "error", err)
		}
	}()

	survivors, err := w.dedupArtifacts(ctx, crawl)
	if err != nil {
		return 0, err
	}
	log.Infow("Crawl artifacts selected", "survivors", len(survivors))

	return w.createAPIAssets(ctx, log, webapp, crawl.Dir, survivors, origin)
}

// revalidate probes the webapp and fails hard when nothing answers.
func (w *Worker) revalidate(ctx context.Context, host string, port int) (*tools.ProbeResult, error) {
	var probed tools.WebProbeOutput
	err := w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameWebProbe,
		Input: tools.WebProbeInput{Targets: []tools.ProbeTarget{{Host: host, Port: port}}},
	}, &probed)
	if err != nil {
		return nil, err
	}
	if len(probed.Webapps) == 0 {
		return nil, &types.AppError{
			Code:    types.ErrValidation,
			Message: fmt.Sprintf("%s:%d is not a live web application", host, port),
		}
	}
	return &probed.Webapps[0], nil
}

// captureScreenshot persists the capture and removes the temp file no matter
// how persistence went.
func (w *Worker) captureScreenshot(ctx context.Context, log *logger.Logger, webapp *types.Asset, scan *types.AssetScan, targetURL string) error {
	var shot tools.ScreenshotOutput
	err := w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameScreenshot,
		Input: tools.ScreenshotInput{URL: targetURL},
	}, &shot)
	if err != nil {
		return err
	}
	defer func() {
		if err := os.Remove(shot.Path); err != nil && !os.IsNotExist(err) {
			log.Warnw("Failed to remove screenshot temp file", "path", shot.Path, "error", err)
		}
	}()

	data, err := os.ReadFile(shot.Path)
	if err != nil {
		return fmt.Errorf("failed to read screenshot: %w", err)
	}

	return w.store.SaveScreenshot(ctx, &types.Screenshot{
		WebappID: webapp.ID,
		ScanID:   scan.ID,
		Data:     data,
		URL:      shot.URL,
		Width:    shot.Width,
		Height:   shot.Height,
	})
}

// dedupArtifacts routes the crawl's candidate URLs through the urldedup tool
// and intersects the survivors with the artifact index by normalized URL.
func (w *Worker) dedupArtifacts(ctx context.Context, crawl tools.CrawlOutput) ([]tools.CrawlArtifact, error) {
	index, err := readCrawlIndex(crawl.IndexPath)
	if err != nil {
		return nil, err
	}
	if len(index.Artifacts) == 0 {
		return nil, nil
	}

	urls := make([]string, len(index.Artifacts))
	for i, artifact := range index.Artifacts {
		urls[i] = artifact.URL
	}

	var deduped tools.URLDedupOutput
	err = w.runner.Run(ctx, toolrunner.Invocation{
		Tool:  tools.NameURLDedup,
		Input: tools.URLDedupInput{URLs: urls},
	}, &deduped)
	if err != nil {
		return nil, err
	}

	surviving := map[string]bool{}
	for _, raw := range deduped.URLs {
		if normalized, err := tools.NormalizeURL(raw); err == nil {
			surviving[normalized] = true
		}
	}

	var survivors []tools.CrawlArtifact
	matched := map[string]bool{}
	for _, artifact := range index.Artifacts {
		normalized, err := tools.NormalizeURL(artifact.URL)
		if err != nil || !surviving[normalized] || matched[normalized] {
			continue
		}
		matched[normalized] = true
		survivors = append(survivors, artifact)
	}
	return survivors, nil
}

// createAPIAssets parses surviving artifact files into WEBAPP_API assets in
// bounded batches. Artifacts whose backing file vanished are skipped.
func (w *Worker) createAPIAssets(ctx context.Context, log *logger.Logger, webapp *types.Asset,
	dir string, survivors []tools.CrawlArtifact, origin assets.Origin) (int, error) {

	created := 0
	for offset := 0; offset < len(survivors); offset += w.cfg.APIBatchSize {
		end := offset + w.cfg.APIBatchSize
		if end > len(survivors) {
			end = len(survivors)
		}

		for _, artifact := range survivors[offset:end] {
			data, err := os.ReadFile(filepath.Join(dir, artifact.File))
			if os.IsNotExist(err) {
				log.Warnw("Artifact file vanished", "file", artifact.File)
				continue
			}
			if err != nil {
				return created, fmt.Errorf("failed to read artifact %s: %w", artifact.File, err)
			}

			var record tools.ArtifactFile
			if err := json.Unmarshal(data, &record); err != nil {
				log.Warnw("Skipping undecodable artifact", "file", artifact.File, "error", err)
				continue
			}

			_, err = w.builder.EnsureWebappAPI(ctx, webapp, record.URL, types.Metadata{
				"method":       record.Method,
				"content_type": record.ContentType,
			}, origin)
			if err != nil {
				return created, err
			}
			created++
		}
	}
	return created, nil
}

func readCrawlIndex(path string) (*tools.CrawlIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read crawl index: %w", err)
	}
	var index tools.CrawlIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("undecodable crawl index: %w", err)
	}
	return &index, nil
}

// webappAddress splits the webapp's "host:port" natural name back into its
// parts, falling back to the Port column when the name has no port suffix.
func webappAddress(webapp *types.Asset) (string, int, error) {
	host, portStr, err := net.SplitHostPort(webapp.Name)
	if err == nil {
		port, perr := strconv.Atoi(portStr)
		if perr == nil {
			return host, port, nil
		}
	}
	if webapp.Port > 0 {
		return webapp.Name, webapp.Port, nil
	}
	return "", 0, types.NewValidationError(fmt.Sprintf("webapp %s has no resolvable address", webapp.ID))
}
