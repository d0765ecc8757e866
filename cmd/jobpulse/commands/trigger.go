package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/errors"
	"github.com/teranos/jobpulse/pulse/async"
	"github.com/teranos/jobpulse/server"
	"github.com/teranos/jobpulse/sym"
)

// TriggerCmd submits an import job to a running server
var TriggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: sym.IX + " Submit an import job",
	Long: sym.IX + ` trigger — Submit an import job to a running server

Examples:
  jobpulse trigger                          # all enabled sources, default options
  jobpulse trigger --source remoteok        # a single source
  jobpulse trigger --priority 5 --wait      # jump the queue and wait for the result`,
	RunE: runTrigger,
}

var (
	triggerPriority    int
	triggerConcurrency int
	triggerBatchSize   int
	triggerSources     []string
	triggerWait        bool
	triggerWaitTimeout time.Duration
)

func init() {
	addAPIFlag(TriggerCmd)
	TriggerCmd.Flags().IntVar(&triggerPriority, "priority", 0, "Job priority (-100..100, higher runs first)")
	TriggerCmd.Flags().IntVar(&triggerConcurrency, "concurrency", 0, "Sources fetched in parallel (1..16, 0 = server default)")
	TriggerCmd.Flags().IntVar(&triggerBatchSize, "batch-size", 0, "Upsert batch size (1..1000, 0 = server default)")
	TriggerCmd.Flags().StringSliceVar(&triggerSources, "source", nil, "Source name to import (repeatable, default all enabled)")
	TriggerCmd.Flags().BoolVar(&triggerWait, "wait", false, "Poll the job until it finishes")
	TriggerCmd.Flags().DurationVar(&triggerWaitTimeout, "wait-timeout", 10*time.Minute, "Give up waiting after this long")
}

func runTrigger(cmd *cobra.Command, args []string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	opts := async.TriggerOptions{
		Priority:    triggerPriority,
		Concurrency: triggerConcurrency,
		BatchSize:   triggerBatchSize,
		Sources:     triggerSources,
		TriggerType: async.TriggerManual,
		TriggeredBy: "cli",
	}

	var resp server.TriggerResponse
	if err := client.do(cmd.Context(), http.MethodPost, "/api/import/trigger", nil, opts, &resp); err != nil {
		return errors.Wrap(err, "trigger failed")
	}
	pterm.Success.Printfln("Import job %s queued", resp.JobID)

	if !triggerWait {
		return nil
	}
	job, err := waitForJob(cmd.Context(), client, resp.JobID, triggerWaitTimeout)
	if err != nil {
		return err
	}
	printJob(job)
	if job.State != async.JobStateCompleted {
		return errors.Newf("job %s finished %s", job.ID, job.State)
	}
	return nil
}

// waitForJob polls GET /jobs/{id} until the job reaches a terminal state
func waitForJob(ctx context.Context, client *apiClient, id string, timeout time.Duration) (*async.ImportJob, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for import job " + id)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		var job async.ImportJob
		if err := client.do(ctx, http.MethodGet, "/api/import/jobs/"+id, nil, nil, &job); err != nil {
			spinner.Fail(err.Error())
			return nil, err
		}
		if job.State.Terminal() {
			if job.State == async.JobStateCompleted {
				spinner.Success("Import job " + id + " completed")
			} else {
				spinner.Warning("Import job " + id + " " + string(job.State))
			}
			return &job, nil
		}
		spinner.UpdateText("Import job " + id + ": " + string(job.State))

		select {
		case <-ctx.Done():
			spinner.Fail("Timed out waiting for import job " + id)
			return nil, errors.Wrapf(ctx.Err(), "waiting for job %s", id)
		case <-ticker.C:
		}
	}
}
