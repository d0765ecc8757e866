package commands

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/ingest/importlog"
	"github.com/teranos/jobpulse/sym"
)

// LogsCmd lists import log entries from a running server
var LogsCmd = &cobra.Command{
	Use:   "logs",
	Short: sym.IX + " List import run logs",
	Long: sym.IX + ` logs — List import run logs, newest first

Examples:
  jobpulse logs                               # latest 20 runs
  jobpulse logs --status failed               # failed runs only
  jobpulse logs --source remoteok --since 2026-03-01
  jobpulse logs --sort duration --order desc --limit 5`,
	RunE: runLogs,
}

var (
	logsPage   int
	logsLimit  int
	logsSort   string
	logsOrder  string
	logsSource string
	logsStatus string
	logsSince  string
	logsUntil  string
)

func init() {
	addAPIFlag(LogsCmd)
	LogsCmd.Flags().IntVar(&logsPage, "page", importlog.DefaultPage, "Page number")
	LogsCmd.Flags().IntVar(&logsLimit, "limit", importlog.DefaultLimit, "Entries per page (max 100)")
	LogsCmd.Flags().StringVar(&logsSort, "sort", "startTime", "Sort field (startTime, duration, successRate, ...)")
	LogsCmd.Flags().StringVar(&logsOrder, "order", importlog.SortDesc, "Sort order (asc, desc)")
	LogsCmd.Flags().StringVar(&logsSource, "source", "", "Only runs that included this source")
	LogsCmd.Flags().StringVar(&logsStatus, "status", "", "Only runs with this status")
	LogsCmd.Flags().StringVar(&logsSince, "since", "", "Runs started on or after (YYYY-MM-DD or RFC3339)")
	LogsCmd.Flags().StringVar(&logsUntil, "until", "", "Runs started on or before (YYYY-MM-DD or RFC3339)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(logsPage))
	q.Set("limit", strconv.Itoa(logsLimit))
	q.Set("sortBy", logsSort)
	q.Set("sortOrder", logsOrder)
	for name, value := range map[string]string{
		"source":    logsSource,
		"status":    logsStatus,
		"startDate": logsSince,
		"endDate":   logsUntil,
	} {
		if value != "" {
			q.Set(name, value)
		}
	}

	var page importlog.Page
	if err := client.do(cmd.Context(), http.MethodGet, "/api/import/logs", q, nil, &page); err != nil {
		return err
	}
	if len(page.Logs) == 0 {
		pterm.Info.Println("No import logs match")
		return nil
	}

	data := pterm.TableData{{"Started", "Source", "Status", "Fetched", "Imported", "New", "Updated", "Failed", "Rate", "Duration", "Trigger"}}
	for _, e := range page.Logs {
		data = append(data, []string{
			e.StartTime.Local().Format(time.DateTime),
			e.Source,
			string(e.Status),
			strconv.Itoa(e.TotalFetched),
			strconv.Itoa(e.TotalImported),
			strconv.Itoa(e.NewJobs),
			strconv.Itoa(e.UpdatedJobs),
			strconv.Itoa(e.FailedJobs),
			strconv.Itoa(e.SuccessRate) + "%",
			(time.Duration(e.Duration) * time.Millisecond).String(),
			e.TriggerType,
		})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		return err
	}

	p := page.Pagination
	pterm.Info.Printfln("Page %d of %d (%d runs)", p.CurrentPage, p.TotalPages, p.TotalCount)
	return nil
}
