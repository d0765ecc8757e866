package commands

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/sym"
)

// JobsCmd inspects and cancels queued import jobs
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: sym.Pulse + " Inspect and cancel import jobs",
	Long: sym.Pulse + ` jobs — Inspect and cancel import jobs on a running server

Examples:
  jobpulse jobs ls                     # newest jobs first
  jobpulse jobs ls --state pending     # only waiting jobs
  jobpulse jobs show <id>
  jobpulse jobs cancel <id>`,
}

var jobsListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List import jobs",
	RunE:    runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one import job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a pending or running import job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var (
	jobsState string
	jobsLimit int
)

func init() {
	jobsListCmd.Flags().StringVar(&jobsState, "state", "", "Filter by state (pending, in-progress, completed, failed, cancelled)")
	jobsListCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum jobs to show")

	for _, c := range []*cobra.Command{jobsListCmd, jobsShowCmd, jobsCancelCmd} {
		addAPIFlag(c)
		JobsCmd.AddCommand(c)
	}
}

type jobList struct {
	Jobs  []*async.ImportJob `json:"jobs"`
	Count int                `json:"count"`
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(jobsLimit))
	if jobsState != "" {
		q.Set("state", jobsState)
	}

	var list jobList
	if err := client.do(cmd.Context(), http.MethodGet, "/api/import/jobs", q, nil, &list); err != nil {
		return err
	}
	if list.Count == 0 {
		pterm.Info.Println("No import jobs")
		return nil
	}

	data := pterm.TableData{{"ID", "State", "Priority", "Attempt", "Trigger", "Sources", "Created"}}
	for _, j := range list.Jobs {
		data = append(data, []string{
			shortJobID(j.ID),
			string(j.State),
			strconv.Itoa(j.Priority),
			fmt.Sprintf("%d/%d", j.Attempt, j.MaxAttempts),
			string(j.TriggerType),
			sourcesLabel(j.Sources),
			j.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var job async.ImportJob
	if err := client.do(cmd.Context(), http.MethodGet, "/api/import/jobs/"+args[0], nil, nil, &job); err != nil {
		return err
	}
	printJob(&job)
	return nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	var job async.ImportJob
	if err := client.do(cmd.Context(), http.MethodPost, "/api/import/jobs/"+args[0]+"/cancel", nil, nil, &job); err != nil {
		return err
	}
	pterm.Success.Printfln("Import job %s %s", job.ID, job.State)
	return nil
}

func printJob(j *async.ImportJob) {
	fmt.Printf("%s Import job %s\n", sym.Pulse, j.ID)
	fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("State:        %s\n", j.State)
	fmt.Printf("Priority:     %d\n", j.Priority)
	fmt.Printf("Attempt:      %d of %d\n", j.Attempt, j.MaxAttempts)
	fmt.Printf("Concurrency:  %d\n", j.Concurrency)
	fmt.Printf("Batch size:   %d\n", j.BatchSize)
	fmt.Printf("Sources:      %s\n", sourcesLabel(j.Sources))
	fmt.Printf("Trigger:      %s (%s)\n", j.TriggerType, j.TriggeredBy)
	fmt.Printf("Created:      %s\n", j.CreatedAt.Local().Format(time.DateTime))
	if j.StartedAt != nil {
		fmt.Printf("Started:      %s\n", j.StartedAt.Local().Format(time.DateTime))
	}
	if j.CompletedAt != nil {
		fmt.Printf("Completed:    %s\n", j.CompletedAt.Local().Format(time.DateTime))
	}
	if j.NotBefore != nil && j.State == async.JobStatePending {
		fmt.Printf("Retry after:  %s (backoff %dms)\n", j.NotBefore.Local().Format(time.DateTime), j.LastBackoffMS)
	}
	if j.Error != "" {
		fmt.Printf("Error:        %s\n", j.Error)
	}
}

func sourcesLabel(sources []string) string {
	if len(sources) == 0 {
		return "all"
	}
	return strings.Join(sources, ",")
}

func shortJobID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
