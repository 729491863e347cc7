package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/config"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/core"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/database"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/logger"
)

var (
	cfg   *config.Config
	log   *logger.Logger
	store core.Store
)

var rootCmd = &cobra.Command{
	Use:   "ambit",
	Short: "Attack surface discovery and scan orchestration",
	Long: `Ambit discovers and tracks an organization's external attack surface.

Sources (cloud accounts, seed hosts) are enumerated on a schedule, discovered
assets are deduplicated into a hierarchy (domains, subdomains, IPs, web
applications, APIs), and every discovery fans out follow-up scans over the
event bus.

COMMANDS:
  ambit serve              - Run the scheduler and both discovery consumers
  ambit worker             - Run the discovery consumers only
  ambit source add         - Register a cloud account or seed host
  ambit schedule list      - List active schedules
  ambit schedule add       - Create a repeating schedule
  ambit schedule trigger   - Dispatch a schedule or source immediately`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// The hidden tool entry point is spawned by the runner with the
		// parent's environment; it must not reconnect to the database.
		if cmd.Name() == "tool" || cmd.Name() == "help" || cmd.Name() == "version" {
			return initBase()
		}

		if err := initBase(); err != nil {
			return err
		}

		var err error
		store, err = database.NewStore(cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync errors on stdout/stderr are expected on Linux.
			_ = log.Sync()
		}
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close database: %v\n", err)
			}
		}
	},
}

// initBase loads configuration and the logger. Safe to call more than once.
func initBase() error {
	if cfg != nil {
		return nil
	}

	viper.SetEnvPrefix("AMBIT")
	viper.AutomaticEnv()

	loaded := &config.Config{}
	if err := viper.Unmarshal(loaded); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	loaded.ApplyDefaults()
	cfg = loaded

	var err error
	log, err = logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))
	viper.BindEnv("logger.level", "AMBIT_LOG_LEVEL")

	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string")
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "AMBIT_DATABASE_DSN", "DATABASE_URL")

	rootCmd.PersistentFlags().String("redis-addr", "", "redis address for the event bus")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindEnv("redis.addr", "AMBIT_REDIS_ADDR", "REDIS_URL")

	viper.BindEnv("telemetry.enabled", "AMBIT_TELEMETRY_ENABLED")
	viper.BindEnv("telemetry.endpoint", "AMBIT_TELEMETRY_ENDPOINT")
	viper.BindEnv("tools.cloud_enum.binary_path", "AMBIT_CLOUDLIST_PATH")
}
