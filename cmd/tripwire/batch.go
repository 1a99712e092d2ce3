package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/engine"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/spf13/cobra"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a tracked batch job",
		Long: `Batches run as tracked jobs. Each item is analyzed on its own: a failing
item is recorded and the batch moves on. Interrupting a batch stops it after
the current item and keeps every result already written.`,
	}

	cmd.AddCommand(batchEmployeeCmd())
	cmd.AddCommand(batchPendingCmd())
	cmd.AddCommand(batchEvaluateCmd())

	return cmd
}

func batchEmployeeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employee <employee-id>",
		Short: "Analyze the most recent communications of one employee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(a *app) error {
				return runBatch(cmd, a, engine.BatchRequest{
					Kind:       model.JobAnalyzeEmployee,
					EmployeeID: args[0],
					Limit:      limit,
				})
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum communications to analyze (default: engine.batch_size)")
	return cmd
}

func batchPendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Analyze every communication that has not been analyzed yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(cmd, func(a *app) error {
				return runBatch(cmd, a, batchRequestPending(limit))
			})
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum communications to analyze (default: engine.batch_size)")
	return cmd
}

func batchEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Recompute the risk profile of every active employee",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				return runBatch(cmd, a, engine.BatchRequest{Kind: model.JobEvaluateEmployees})
			})
		},
	}
}

func batchRequestPending(limit int) engine.BatchRequest {
	return engine.BatchRequest{Kind: model.JobAnalyzePending, Limit: limit}
}

func withApp(cmd *cobra.Command, fn func(*app) error) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

// runBatch starts req as a tracked job, draws its progress and waits for it.
// An interrupt cancels the job between items.
func runBatch(cmd *cobra.Command, a *app, req engine.BatchRequest) error {
	ctx := cmd.Context()
	errOut := cmd.ErrOrStderr()

	reporter := cli.NewProgressReporter(errOut, batchDescription(req.Kind))
	req.Progress = reporter.Update

	handler := cli.NewInterruptHandler(errOut, resumeHint(req))
	sigCtx, stop := handler.HandleInterrupts(ctx)
	defer stop()

	id, err := a.jobs.Start(ctx, req)
	if err != nil {
		return err
	}
	go func() {
		<-sigCtx.Done()
		a.jobs.Cancel(id)
	}()

	job, err := a.jobs.Wait(context.WithoutCancel(ctx), id)
	reporter.Finish()
	if err != nil {
		return fmt.Errorf("failed to read job %s: %w", id, err)
	}

	printJob(cmd.OutOrStdout(), job)

	if job.Status == model.JobFailed && job.Error != "canceled" {
		return errors.New("batch failed: " + job.Error)
	}
	return nil
}

func batchDescription(kind model.JobKind) string {
	if kind == model.JobEvaluateEmployees {
		return "Evaluating employees"
	}
	return "Analyzing communications"
}

func resumeHint(req engine.BatchRequest) string {
	switch req.Kind {
	case model.JobAnalyzeEmployee:
		return "tripwire batch employee " + req.EmployeeID
	case model.JobAnalyzePending:
		return "tripwire batch pending"
	default:
		return "tripwire batch evaluate"
	}
}

func printJob(out io.Writer, job *model.Job) {
	lines := []string{
		"Job:       " + job.ID.String(),
		"Kind:      " + string(job.Kind),
		"Status:    " + jobStatus(job),
		"Started:   " + job.StartedAt.Local().Format(time.DateTime),
	}
	if job.Target != "" {
		lines = append(lines, "Target:    "+job.Target)
	}
	if job.CompletedAt != nil {
		lines = append(lines, "Duration:  "+job.CompletedAt.Sub(job.StartedAt).Round(time.Millisecond).String())
	}
	lines = append(lines,
		"Items:     "+strconv.Itoa(job.Total),
		"Succeeded: "+strconv.Itoa(job.Succeeded),
		"Failed:    "+strconv.Itoa(job.Failed),
	)
	if job.Error != "" && job.Error != "canceled" {
		lines = append(lines, "Error:     "+cli.ErrorStyle.Render(job.Error))
	}
	fmt.Fprintln(out, cli.RenderBox("Batch", strings.Join(lines, "\n")))

	for _, f := range job.Failures {
		fmt.Fprintln(out, cli.FormatError(f.ItemID+": "+f.Error))
	}
}
