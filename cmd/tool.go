package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/ambit/internal/toolrunner"
	"github.com/CodeMonkeyCybersecurity/ambit/internal/tools"
)

// toolCmd is the child entry point the tool runner spawns. It speaks the
// JSON-line protocol on stdin/stdout, so the logger must stay off stdout.
var toolCmd = &cobra.Command{
	Use:    "tool <name>",
	Short:  "Run one discovery tool as a child process",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		childLog := log.WithComponent("tool." + args[0])

		harness := toolrunner.NewHarness(os.Stdin, os.Stdout, childLog)
		tools.RegisterAll(harness, cfg.Tools, childLog)
		return harness.Serve(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(toolCmd)
}
