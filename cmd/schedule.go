package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/bus"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/scheduler"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/ambit/pkg/types"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage repeating scan schedules",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		schedules, err := store.ListActiveSchedules(cmd.Context())
		if err != nil {
			return err
		}
		if len(schedules) == 0 {
			fmt.Println("no active schedules")
			return nil
		}
		for _, s := range schedules {
			fmt.Printf("%s  %-18s every %s  sources=%d assets=%d created_by=%s\n",
				s.ID, s.Type, time.Duration(s.IntervalSeconds)*time.Second,
				len(s.SourceIDs), len(s.AssetIDs), s.CreatedBy)
		}
		return nil
	},
}

var (
	scheduleAddType      string
	scheduleAddInterval  time.Duration
	scheduleAddSources   []string
	scheduleAddAssets    []string
	scheduleAddProfiles  []string
	scheduleAddCreatedBy string
)

var scheduleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a repeating schedule",
	Long: `Persists a schedule. A running serve process picks it up on its next
start; to fire it immediately use "ambit schedule trigger".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(scheduleAddSources) == 0 && len(scheduleAddAssets) == 0 {
			return types.NewValidationError("schedule needs at least one --source or --asset target")
		}

		schedule := &types.Schedule{
			Type:            types.ScanType(scheduleAddType),
			IntervalSeconds: int(scheduleAddInterval.Seconds()),
			SourceIDs:       scheduleAddSources,
			AssetIDs:        scheduleAddAssets,
			Profiles:        scheduleAddProfiles,
			Active:          true,
			CreatedBy:       scheduleAddCreatedBy,
		}
		if err := store.SaveSchedule(cmd.Context(), schedule); err != nil {
			return err
		}
		fmt.Printf("schedule %s created\n", schedule.ID)
		return nil
	},
}

var triggerSourceID string

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger [schedule-id]",
	Short: "Dispatch a schedule or a single source immediately",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 && triggerSourceID == "" {
			return types.NewValidationError("pass a schedule id or --source")
		}

		ctx := cmd.Context()
		tel := telemetry.Noop()
		eventBus, err := bus.NewRedisBus(cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("failed to connect to event bus: %w", err)
		}
		defer eventBus.Close()

		dispatcher := scheduler.NewDispatcher(store, eventBus, tel, log, cfg.Scheduler.EventSource)

		var run *types.ScheduleRun
		if len(args) == 1 {
			registry := scheduler.NewRegistry(store, dispatcher, scheduler.NewClock(), log)
			run, err = registry.TriggerNow(ctx, args[0], types.TriggerManual)
		} else {
			var source *types.Source
			source, err = store.GetSource(ctx, triggerSourceID)
			if err != nil {
				return err
			}
			run, err = dispatcher.Dispatch(ctx, core.Trigger{
				Type:      types.ScanTypeAsset,
				Cause:     types.TriggerManual,
				Sources:   []*types.Source{source},
				CreatedBy: "cli",
			})
		}
		if err != nil {
			return err
		}

		fmt.Printf("run %s dispatched: %d sent, %d failed\n", run.ID, run.SuccessCount, run.FailedCount)
		return nil
	},
}

func init() {
	scheduleAddCmd.Flags().StringVar(&scheduleAddType, "type", string(types.ScanTypeAsset), "scan type to dispatch")
	scheduleAddCmd.Flags().DurationVar(&scheduleAddInterval, "interval", time.Hour, "cadence between dispatches")
	scheduleAddCmd.Flags().StringSliceVar(&scheduleAddSources, "source", nil, "source id to target (repeatable)")
	scheduleAddCmd.Flags().StringSliceVar(&scheduleAddAssets, "asset", nil, "asset id to target (repeatable)")
	scheduleAddCmd.Flags().StringSliceVar(&scheduleAddProfiles, "profile", nil, "scan profile (repeatable)")
	scheduleAddCmd.Flags().StringVar(&scheduleAddCreatedBy, "created-by", "cli", "actor recorded on the schedule")

	scheduleTriggerCmd.Flags().StringVar(&triggerSourceID, "source", "", "dispatch one source without a schedule")

	scheduleCmd.AddCommand(scheduleListCmd, scheduleAddCmd, scheduleTriggerCmd)
	rootCmd.AddCommand(scheduleCmd)
}
