package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/bus"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/scheduler"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/telemetry"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the discovery consumers without the schedule engine",
	Long: `Runs the source discovery and webapp sub-scan consumers against the
shared event bus. Use this to scale consumption horizontally while a single
serve process owns the schedules.`,
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

		// Side-effect triggers raised during discovery go back out through
		// the same dispatcher the scheduler uses.
		dispatcher := scheduler.NewDispatcher(store, eventBus, tel, log, cfg.Scheduler.EventSource)

		if err := startWorker(ctx, eventBus, dispatcher, tel); err != nil {
			return err
		}

		log.Infow("Worker running")
		waitForShutdown(ctx, cancel)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
