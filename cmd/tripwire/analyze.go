package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/engine"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <communication-id>",
		Short: "Analyze one communication against every active category",
		Long: `Run every active threat category against a stored communication, persist
the detection results and verdict, and raise violations for detections that
reach a category's investigation threshold.`,
		Args: cobra.ExactArgs(1),
		RunE: runAnalyze,
	}

	cmd.Flags().Bool("all", false, "Show categories that did not score")
	return cmd
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	showAll, _ := cmd.Flags().GetBool("all")
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = a.Close() }()

	outcome, err := a.analyzer.AnalyzeCommunication(ctx, args[0])
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	printOutcome(cmd.OutOrStdout(), args[0], outcome, showAll)
	return nil
}

func printOutcome(out io.Writer, id string, outcome *engine.AnalysisOutcome, showAll bool) {
	rows := make([][]string, 0, len(outcome.Results))
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if !showAll && r.FinalRiskScore <= 0 {
			continue
		}
		method := string(r.Method)
		if r.Degraded {
			method += cli.WarningStyle.Render(" (degraded)")
		}
		rows = append(rows, []string{
			r.CategoryName,
			cli.FormatSeverity(r.Severity),
			method,
			cli.FormatScore(int(math.Round(r.FinalRiskScore))),
			tierLabel(r),
			factorList(r.AppliedMultipliers),
		})
	}

	verdict := cli.SuccessStyle.Render("clear")
	if outcome.Analysis.IsFlagged {
		verdict = cli.ErrorStyle.Render(cli.FlagIcon + " flagged")
	}
	summary := strings.Join([]string{
		"Communication: " + id,
		"Verdict:       " + verdict,
		"Risk score:    " + cli.FormatScore(outcome.Analysis.RiskScore) + " " +
			cli.FormatRiskLevel(model.LevelForScore(outcome.Analysis.RiskScore)),
		"Category:      " + orDash(outcome.Analysis.Category),
		"Run:           " + outcome.RunID.String(),
	}, "\n")
	fmt.Fprintln(out, cli.RenderBox("Analysis", summary))

	if len(rows) > 0 {
		fmt.Fprint(out, cli.RenderTable(
			[]string{"Category", "Severity", "Method", "Score", "Tier", "Factors"},
			rows,
		))
	}

	if outcome.Degraded() {
		fmt.Fprintln(out, cli.FormatWarning("Language-model fallback unavailable for some categories; keyword results were kept"))
	}
	for _, v := range outcome.Violations {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Raised %s violation %s (%s)", v.Severity, v.ID, v.Type)))
	}
	for i := range outcome.Results {
		r := &outcome.Results[i]
		if !r.TriggersAlert {
			continue
		}
		for _, rec := range r.Recommendations {
			fmt.Fprintln(out, cli.InfoStyle.Render("  → "+rec))
		}
	}
}

func tierLabel(r *model.DetectionResult) string {
	switch {
	case r.TriggersCritical:
		return cli.ErrorStyle.Render("critical")
	case r.TriggersInvestigation:
		return cli.WarningStyle.Render("investigate")
	case r.TriggersAlert:
		return cli.InfoStyle.Render("alert")
	default:
		return cli.SubtleStyle.Render("-")
	}
}

func factorList(factors []model.RiskFactor) string {
	if len(factors) == 0 {
		return "-"
	}
	names := make([]string, len(factors))
	for i, f := range factors {
		names[i] = string(f)
	}
	return strings.Join(names, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
