package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/db"
	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/ingest/store"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/sym"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: sym.DB + " Manage the jobpulse database",
	Long: sym.DB + ` db — Manage the jobpulse database

Examples:
  jobpulse db migrate       # apply pending migrations
  jobpulse db stats         # job, record and log counts`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

var dbPathFlag string

func init() {
	DbCmd.PersistentFlags().StringVar(&dbPathFlag, "db-path", "", "Database path (overrides database.path)")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, dbPath, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	versions, err := db.AppliedVersions(database)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s is at schema version %s (%d migrations applied)\n",
		sym.DB, dbPath, versions[len(versions)-1], len(versions))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	database, dbPath, err := openDatabase(cfg, dbPathFlag)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()

	jobs, err := async.NewStore(database).CountByState(ctx)
	if err != nil {
		return err
	}

	records, err := store.Open(ctx, cfg.Records, database)
	if err != nil {
		return errors.Wrap(err, "failed to open record store")
	}
	defer records.Close()
	recordCount, err := records.Count(ctx)
	if err != nil {
		return err
	}

	var logCount, unfinished int
	err = database.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN end_time IS NULL THEN 1 ELSE 0 END), 0) FROM import_logs`).Scan(&logCount, &unfinished)
	if err != nil {
		return errors.Wrap(err, "failed to count import logs")
	}

	fmt.Printf("%s Database Statistics\n", sym.DB)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Printf("Database Path:   %s\n", dbPath)
	fmt.Printf("Record Store:    %s\n", cfg.Records.Driver)
	fmt.Printf("Job Records:     %d\n", recordCount)
	fmt.Printf("Import Logs:     %d (%d unfinished)\n", logCount, unfinished)
	fmt.Println()
	fmt.Printf("%s Import Jobs\n", sym.Pulse)
	for _, state := range []async.JobState{
		async.JobStatePending, async.JobStateInProgress, async.JobStateCompleted,
		async.JobStateFailed, async.JobStateCancelled,
	} {
		fmt.Printf("  %-12s %d\n", state, jobs[state])
	}
	return nil
}
