package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/spf13/cobra"
)

// ingestFile is the normalized export a connector hands to tripwire.
type ingestFile struct {
	Employees      []model.Employee      `json:"employees"`
	Communications []model.Communication `json:"communications"`
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Load employees and communications from a JSON export",
		Long: `Load a JSON document of the form {"employees": [...], "communications": [...]}.

Employees are upserted. Communications are stored once; re-ingesting a
communication id leaves the stored copy and its analysis untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().Bool("analyze", false, "Analyze the ingested communications right away")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0]) //nolint:gosec // path supplied by the operator
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var file ingestFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse %s: %w", args[0], err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = a.Close() }()

	for i := range file.Employees {
		if err := a.store.UpsertEmployee(ctx, &file.Employees[i]); err != nil {
			return fmt.Errorf("failed to save employee %q: %w", file.Employees[i].ID, err)
		}
	}
	if err := a.store.SaveCommunications(ctx, file.Communications); err != nil {
		return fmt.Errorf("failed to save communications: %w", err)
	}

	common.LogInfo("Ingested export", common.Fields{
		"file":           args[0],
		"employees":      len(file.Employees),
		"communications": len(file.Communications),
	})

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Ingested %d employees and %d communications",
		len(file.Employees), len(file.Communications))))

	analyze, _ := cmd.Flags().GetBool("analyze")
	if !analyze {
		fmt.Fprintln(out, cli.InfoStyle.Render("Analyze them with: tripwire batch pending"))
		return nil
	}
	return runBatch(cmd, a, batchRequestPending(0))
}
