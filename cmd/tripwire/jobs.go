package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/spf13/cobra"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect batch jobs",
	}

	cmd.AddCommand(listJobsCmd())
	cmd.AddCommand(showJobCmd())

	return cmd
}

func listJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batch jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			jobs, err := store.ListJobs(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No jobs recorded yet"))
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []string{
					j.ID.String(),
					string(j.Kind),
					orDash(j.Target),
					jobStatus(&j),
					j.StartedAt.Local().Format(time.DateTime),
					strconv.Itoa(j.Total),
					strconv.Itoa(j.Failed),
				})
			}
			fmt.Fprint(out, cli.RenderTable(
				[]string{"ID", "Kind", "Target", "Status", "Started", "Items", "Failed"},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum jobs to show")
	return cmd
}

func showJobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the status and failures of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("job", args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			job, err := store.GetJob(ctx, id)
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), job)
			return nil
		},
	}
}

func jobStatus(j *model.Job) string {
	switch {
	case j.Status == model.JobFailed && j.Error == "canceled":
		return cli.WarningStyle.Render("canceled")
	case j.Status == model.JobFailed:
		return cli.ErrorStyle.Render(string(j.Status))
	case j.Status == model.JobRunning:
		return cli.InfoStyle.Render(string(j.Status))
	default:
		return cli.SuccessStyle.Render(string(j.Status))
	}
}
