package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/server"
	"github.com/teranos/jobpulse/sym"
)

// StatusCmd shows queue, scheduler and import statistics of a running server
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: sym.Pulse + " Show queue, scheduler and import statistics",
	RunE:  runStatus,
}

var statusDays int

func init() {
	addAPIFlag(StatusCmd)
	StatusCmd.Flags().IntVar(&statusDays, "days", 0, "Limit statistics to the last N days (0 = all time)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	var status server.StatusResponse
	if err := client.do(cmd.Context(), http.MethodGet, "/api/import/status", nil, nil, &status); err != nil {
		return err
	}

	var q url.Values
	if statusDays > 0 {
		q = url.Values{"days": {strconv.Itoa(statusDays)}}
	}
	var stats importlog.Stats
	if err := client.do(cmd.Context(), http.MethodGet, "/api/import/stats", q, nil, &stats); err != nil {
		return err
	}

	qs := status.Queue
	fmt.Printf("%s Queue\n", sym.Pulse)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Waiting:    %d (%d delayed)\n", qs.Waiting, qs.Delayed)
	fmt.Printf("Active:     %d\n", qs.Active)
	fmt.Printf("Completed:  %d\n", qs.Completed)
	fmt.Printf("Failed:     %d\n", qs.Failed)
	fmt.Printf("Cancelled:  %d\n", qs.Cancelled)
	if qs.Paused {
		fmt.Printf("Paused:     yes\n")
	}
	fmt.Println()

	sc := status.Scheduler
	fmt.Printf("%s Scheduler\n", sym.Pulse)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Active:     %t\n", sc.Active)
	fmt.Printf("Interval:   %s\n", sc.ImportInterval)
	fmt.Printf("Scheduled:  %d runs (%d skipped)\n", sc.TaskCount, sc.SkippedTicks)
	if sc.LastRunAt != nil {
		fmt.Printf("Last run:   %s\n", sc.LastRunAt.Local().Format(time.DateTime))
	}
	if sc.NextRunAt != nil {
		fmt.Printf("Next run:   %s\n", sc.NextRunAt.Local().Format(time.DateTime))
	}
	fmt.Printf("Sources:    %s\n", strings.Join(status.Sources, ", "))
	fmt.Println()

	sys := status.System
	fmt.Printf("Workers:    %d/%d busy, %d jobs processed\n", sys.WorkersActive, sys.WorkersTotal, sys.JobsProcessed)
	fmt.Printf("Memory:     %.1f/%.1f GB (%.0f%%)\n", sys.MemoryUsedGB, sys.MemoryTotalGB, sys.MemoryPercent)
	fmt.Println()

	fmt.Printf("%s Imports", sym.IX)
	if statusDays > 0 {
		fmt.Printf(" (last %d days)", statusDays)
	}
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Runs:          %d\n", stats.TotalImports)
	fmt.Printf("Fetched:       %d\n", stats.TotalFetched)
	fmt.Printf("Imported:      %d (%d new, %d updated)\n", stats.TotalImported, stats.TotalNew, stats.TotalUpdated)
	fmt.Printf("Failed:        %d\n", stats.TotalFailed)
	fmt.Printf("Success rate:  %d%%\n", stats.SuccessRate)
	fmt.Printf("Avg duration:  %s\n", (time.Duration(stats.AvgDuration) * time.Millisecond).String())
	if stats.LastImportAt != nil {
		fmt.Printf("Last import:   %s\n", stats.LastImportAt.Local().Format(time.DateTime))
	}
	return nil
}
