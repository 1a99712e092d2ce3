package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/Veraticus/tripwire/internal/violation"
	"github.com/spf13/cobra"
)

func violationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "violations",
		Short: "Track violations through investigation",
		Long: `Violations move between Active, Investigating, FalsePositive and Resolved.
Every transition is recorded with its reason and actor, and the employee's
risk profile is recomputed after each change.`,
	}

	cmd.AddCommand(listViolationsCmd())
	cmd.AddCommand(showViolationCmd())
	cmd.AddCommand(createViolationCmd())
	cmd.AddCommand(transitionViolationCmd())
	cmd.AddCommand(assessViolationCmd())

	return cmd
}

func listViolationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List violations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			employee, _ := cmd.Flags().GetString("employee")
			statuses, _ := cmd.Flags().GetStringSlice("status")
			limit, _ := cmd.Flags().GetInt("limit")

			filter := service.ViolationFilter{EmployeeID: employee, Limit: limit}
			for _, raw := range statuses {
				s, err := parseStatus(raw)
				if err != nil {
					return err
				}
				filter.Statuses = append(filter.Statuses, s)
			}

			return withApp(cmd, func(a *app) error {
				violations, err := a.violations.List(cmd.Context(), filter)
				if err != nil {
					return fmt.Errorf("failed to list violations: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(violations) == 0 {
					fmt.Fprintln(out, cli.FormatInfo("No violations found"))
					return nil
				}
				fmt.Fprintln(out, cli.FormatTitle("Violations"))
				fmt.Fprint(out, renderViolations(violations))
				return nil
			})
		},
	}
	cmd.Flags().String("employee", "", "Only violations of this employee")
	cmd.Flags().StringSlice("status", nil, "Only these statuses (active, investigating, false-positive, resolved)")
	cmd.Flags().Int("limit", 50, "Maximum violations to show")
	return cmd
}

func showViolationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <violation-id>",
		Short: "Show a violation with its evidence and status history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("violation", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				v, err := a.violations.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				history, err := a.violations.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				printViolation(cmd.OutOrStdout(), v, history)
				return nil
			})
		},
	}
}

func createViolationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <employee-id>",
		Short: "Record a violation raised by an analyst",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vType, _ := cmd.Flags().GetString("type")
			severity, _ := cmd.Flags().GetString("severity")
			description, _ := cmd.Flags().GetString("description")
			evidence, _ := cmd.Flags().GetStringSlice("evidence")
			commID, _ := cmd.Flags().GetString("communication")
			actor, _ := cmd.Flags().GetString("actor")

			return withApp(cmd, func(a *app) error {
				v, err := a.violations.Create(cmd.Context(), violation.CreateRequest{
					EmployeeID:      args[0],
					Type:            vType,
					Severity:        parseSeverity(severity),
					Description:     description,
					Evidence:        evidence,
					CommunicationID: commID,
					Source:          model.SourceManual,
					Actor:           actorOrUser(actor),
				})
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Created violation "+v.ID.String()))
				return nil
			})
		},
	}
	cmd.Flags().String("type", "", "Violation type (required)")
	cmd.Flags().String("severity", "Medium", "Severity (Critical, High, Medium, Low)")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().StringSlice("evidence", nil, "Evidence items")
	cmd.Flags().String("communication", "", "Related communication id")
	cmd.Flags().String("actor", "", "Analyst recorded as creator (default: $USER)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func transitionViolationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <violation-id> <status>",
		Short: "Move a violation to a new status",
		Long: `Move a violation to active, investigating, false-positive or resolved.

The reason is required; when --reason is not given it is asked for
interactively. Use --expected-version to refuse the change if someone else
updated the violation since you looked at it.`,
		Args: cobra.ExactArgs(2),
		RunE: runTransition,
	}
	cmd.Flags().String("reason", "", "Why the status changes")
	cmd.Flags().String("actor", "", "Analyst recorded in the history (default: $USER)")
	cmd.Flags().Int("expected-version", 0, "Only apply if the violation is still at this version")
	cmd.Flags().Bool("ai-assisted", false, "Record that the decision followed the AI recommendation")
	return cmd
}

func runTransition(cmd *cobra.Command, args []string) error {
	id, err := parseID("violation", args[0])
	if err != nil {
		return err
	}
	target, err := parseStatus(args[1])
	if err != nil {
		return err
	}

	reason, _ := cmd.Flags().GetString("reason")
	actor, _ := cmd.Flags().GetString("actor")
	expected, _ := cmd.Flags().GetInt("expected-version")
	aiAssisted, _ := cmd.Flags().GetBool("ai-assisted")
	ctx := cmd.Context()

	if strings.TrimSpace(reason) == "" {
		prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
		reason, err = prompter.Ask(ctx, "Reason")
		if err != nil {
			return common.NewUserError("a reason is required to change a violation's status", err)
		}
	}

	req := violation.TransitionRequest{
		Target:     target,
		Reason:     reason,
		Actor:      actorOrUser(actor),
		AIAssisted: aiAssisted,
	}
	if cmd.Flags().Changed("expected-version") {
		req.ExpectedVersion = &expected
	}

	return withApp(cmd, func(a *app) error {
		if aiAssisted {
			current, err := a.violations.Get(ctx, id)
			if err != nil {
				return err
			}
			if current.AIValidation != nil && current.AIValidation.Status == model.AIValidationValidated {
				score := current.AIValidation.Score
				req.AIConfidence = &score
			}
		}

		v, entry, err := a.violations.Transition(ctx, id, req)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Violation %s: %s → %s (version %d)",
			v.ID, entry.PreviousStatus, entry.NewStatus, v.Version)))
		return nil
	})
}

func assessViolationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assess <violation-id>",
		Short: "Ask the language model for an advisory review",
		Long: `Run the AI validation side channel. The result is stored on the violation
as advice; the status is never changed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("violation", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(a *app) error {
				v, err := a.violations.Assess(cmd.Context(), id)
				if err != nil {
					return err
				}
				printValidation(cmd.OutOrStdout(), v.AIValidation)
				return nil
			})
		},
	}
}

func renderViolations(violations []model.Violation) string {
	rows := make([][]string, 0, len(violations))
	for i := range violations {
		v := &violations[i]
		rows = append(rows, []string{
			v.ID.String(),
			v.EmployeeID,
			truncate(v.Type, 32),
			cli.FormatSeverity(v.Severity),
			cli.FormatStatus(v.Status),
			string(v.Source),
			v.CreatedAt.Local().Format(time.DateTime),
		})
	}
	return cli.RenderTable(
		[]string{"ID", "Employee", "Type", "Severity", "Status", "Source", "Created"},
		rows,
	)
}

func printViolation(out io.Writer, v *model.Violation, history []model.ViolationStatusHistory) {
	lines := []string{
		"Violation:   " + v.ID.String(),
		"Employee:    " + v.EmployeeID,
		"Type:        " + v.Type,
		"Severity:    " + cli.FormatSeverity(v.Severity),
		"Status:      " + cli.FormatStatus(v.Status),
		"Version:     " + strconv.Itoa(v.Version),
		"Source:      " + string(v.Source),
		"Created:     " + v.CreatedAt.Local().Format(time.DateTime),
	}
	if v.CommunicationID != "" {
		lines = append(lines, "Message:     "+v.CommunicationID)
	}
	if v.ResolvedAt != nil {
		lines = append(lines, "Resolved:    "+v.ResolvedAt.Local().Format(time.DateTime))
	}
	if v.Description != "" {
		lines = append(lines, "", v.Description)
	}
	if len(v.Evidence) > 0 {
		lines = append(lines, "", "Evidence:")
		for _, e := range v.Evidence {
			lines = append(lines, "  • "+e)
		}
	}
	fmt.Fprintln(out, cli.RenderBox("Violation", strings.Join(lines, "\n")))

	if v.AIValidation != nil {
		printValidation(out, v.AIValidation)
	}

	if len(history) == 0 {
		return
	}
	rows := make([][]string, 0, len(history))
	for _, h := range history {
		ai := ""
		if h.AIAssisted {
			ai = "AI"
			if h.AIConfidence != nil {
				ai += fmt.Sprintf(" %.0f", *h.AIConfidence)
			}
		}
		rows = append(rows, []string{
			h.CreatedAt.Local().Format(time.DateTime),
			string(h.PreviousStatus) + " → " + string(h.NewStatus),
			h.Actor,
			orDash(ai),
			truncate(h.Reason, 60),
		})
	}
	fmt.Fprint(out, cli.RenderTable([]string{"When", "Change", "Actor", "Assist", "Reason"}, rows))
}

func printValidation(out io.Writer, val *model.AIValidation) {
	if val == nil {
		return
	}
	lines := []string{"Status:      " + string(val.Status)}
	if val.Status == model.AIValidationValidated {
		lines = append(lines,
			fmt.Sprintf("Score:       %.0f", val.Score),
			"Recommends:  "+cli.FormatStatus(val.RecommendedStatus),
		)
	}
	if val.Reasoning != "" {
		lines = append(lines, "", val.Reasoning)
	}
	fmt.Fprintln(out, cli.RenderBox("AI Review", strings.Join(lines, "\n")))
}

// parseStatus accepts a lifecycle status in any case, with or without a
// separator in FalsePositive.
func parseStatus(raw string) (model.ViolationStatus, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(raw))
	switch key {
	case "active":
		return model.StatusActive, nil
	case "investigating":
		return model.StatusInvestigating, nil
	case "falsepositive":
		return model.StatusFalsePositive, nil
	case "resolved":
		return model.StatusResolved, nil
	}
	return "", common.NewUserError(fmt.Sprintf("unknown status %q (use active, investigating, false-positive or resolved)", raw), nil)
}

func parseSeverity(raw string) model.Severity {
	if raw == "" {
		return ""
	}
	lower := strings.ToLower(raw)
	return model.Severity(strings.ToUpper(lower[:1]) + lower[1:])
}

func actorOrUser(actor string) string {
	if actor != "" {
		return actor
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "analyst"
}
