package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/am"
	"github.com/teranos/jobpulse/cmd/jobpulse/commands"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "jobpulse",
	Short: "jobpulse - job listing import pipeline",
	Long: `jobpulse - periodically imports job listings from external feeds.

Listings are fetched, normalized, deduplicated and stored, and every run
is recorded in an import log with per-run statistics.

Available commands:
  server - Run the import queue, scheduler and REST API
  trigger - Submit an import job to a running server
  status  - Show queue and scheduler status
  logs    - List import log entries
  jobs    - List and cancel import jobs
  db      - Manage the jobpulse database
  am      - Show jobpulse configuration ("I am")

Examples:
  jobpulse server                        # Start the server
  jobpulse trigger --priority 10         # Import all sources now
  jobpulse logs --status failed          # Show failed runs`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		if configPath != "" {
			if _, err := os.Stat(configPath); err != nil {
				return errors.Wrapf(err, "config file %s", configPath)
			}
			am.SetConfigFile(configPath)
		}

		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if cmd.Name() == "server" && verbosity == 0 {
			verbosity = logger.VerbosityInfo
		}
		if err := logger.Initialize(jsonLogs, logger.VerbosityToLevel(verbosity)); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().String("config", "", "Config file merged over the standard locations")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")

	rootCmd.AddCommand(commands.ServerCmd)
	rootCmd.AddCommand(commands.TriggerCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.LogsCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			for _, hint := range hints {
				fmt.Fprintln(os.Stderr, "hint:", hint)
			}
		}
		os.Exit(1)
	}
}
