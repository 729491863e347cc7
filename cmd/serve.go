package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/assets"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/bus"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/scheduler"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/toolrunner"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the schedule engine and both discovery consumers",
	Long: `Starts the full pipeline in one process: the schedule registry fires
persisted schedules, the dispatcher fans triggers out over the bus, and both
consumers (source discovery and webapp sub-scan) process the resulting events.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		tel, err := telemetry.New(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer shutdownTelemetry(tel)

		eventBus, err := bus.NewRedisBus(cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect to event bus: %w", err)
		}
		defer eventBus.Close()

		dispatcher := scheduler.NewDispatcher(store, eventBus, tel, log, cfg.Scheduler.EventSource)

		registry := scheduler.NewRegistry(store, dispatcher, scheduler.NewClock(), log)
		if err := registry.Start(ctx); err != nil {
			return fmt.Errorf("failed to start schedule registry: %w", err)
		}
		defer registry.Stop()

		if err := startWorker(ctx, eventBus, dispatcher, tel); err != nil {
			return err
		}

		log.Infow("Ambit serving", "event_source", cfg.Scheduler.EventSource)
		waitForShutdown(ctx, cancel)
		return nil
	},
}

// startWorker wires the discovery worker onto the bus and subscribes both
// consumers. Consumption stops when ctx is canceled.
func startWorker(ctx context.Context, eventBus core.Bus, dispatcher core.Dispatcher, tel core.Telemetry) error {
	runner, err := toolrunner.NewRunner(cfg.Tools.Runner, tel, log)
	if err != nil {
		return fmt.Errorf("failed to initialize tool runner: %w", err)
	}

	builder := assets.NewBuilder(store, dispatcher, log)
	w := worker.New(store, eventBus, builder, runner, tel, cfg.Worker, log)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	return nil
}

func shutdownTelemetry(tel core.Telemetry) {
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := tel.Shutdown(ctx); err != nil {
		log.Warnw("Telemetry shutdown failed", "error", err)
	}
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Infow("Shutdown signal received", "signal", sig.String())
		cancel()
	case <-ctx.Done():
	}
	// Give in-flight handlers a moment to finish their terminal writes.
	time.Sleep(500 * time.Millisecond)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
