package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/common"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/Veraticus/tripwire/internal/service"
	"github.com/spf13/cobra"
)

func employeesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "employees",
		Short: "Inspect employee risk profiles",
	}

	cmd.AddCommand(listEmployeesCmd())
	cmd.AddCommand(showEmployeeCmd())
	cmd.AddCommand(recomputeEmployeeCmd())

	return cmd
}

func listEmployeesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List employees with their current risk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			employees, err := store.ListEmployees(ctx, !all)
			if err != nil {
				return fmt.Errorf("failed to list employees: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(employees) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No employees found"))
				return nil
			}

			rows := make([][]string, 0, len(employees))
			for _, e := range employees {
				score, level, violations := "-", "-", "-"
				profile, err := store.GetRiskProfile(ctx, e.ID)
				switch {
				case err == nil:
					score = cli.FormatScore(profile.RiskScore)
					level = cli.FormatRiskLevel(profile.RiskLevel)
					violations = strconv.Itoa(profile.ActiveViolationCount)
				case !errors.Is(err, common.ErrNotFound):
					return fmt.Errorf("failed to read risk profile of %q: %w", e.ID, err)
				}
				rows = append(rows, []string{e.ID, e.Name, orDash(e.Department), score, level, violations})
			}

			fmt.Fprintln(out, cli.FormatTitle("Employees"))
			fmt.Fprint(out, cli.RenderTable(
				[]string{"ID", "Name", "Department", "Score", "Level", "Open violations"},
				rows,
			))
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "Include inactive employees")
	return cmd
}

func showEmployeeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <employee-id>",
		Short: "Show an employee's risk profile and open violations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			employee, err := store.GetEmployee(ctx, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			profile, err := store.GetRiskProfile(ctx, employee.ID)
			switch {
			case errors.Is(err, common.ErrNotFound):
				profile = nil
			case err != nil:
				return fmt.Errorf("failed to read risk profile: %w", err)
			}
			printProfile(out, employee, profile)

			open, err := store.ListViolations(ctx, service.ViolationFilter{
				EmployeeID: employee.ID,
				Statuses:   []model.ViolationStatus{model.StatusActive, model.StatusInvestigating},
			})
			if err != nil {
				return fmt.Errorf("failed to list violations: %w", err)
			}
			if len(open) > 0 {
				fmt.Fprint(out, renderViolations(open))
			}
			return nil
		},
	}
}

func recomputeEmployeeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recompute <employee-id>",
		Short: "Recompute one employee's risk profile now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(a *app) error {
				employee, err := a.store.GetEmployee(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				profile, err := a.risk.Recompute(cmd.Context(), employee.ID)
				if err != nil {
					return err
				}
				printProfile(cmd.OutOrStdout(), employee, profile)
				return nil
			})
		},
	}
}

func printProfile(out io.Writer, e *model.Employee, p *model.EmployeeRiskProfile) {
	lines := []string{
		"Employee:   " + e.ID + " (" + e.Name + ")",
		"Email:      " + orDash(e.Email),
		"Department: " + orDash(e.Department),
		"Time zone:  " + e.Location().String(),
	}
	if p == nil {
		lines = append(lines, cli.SubtleStyle.Render("No risk profile yet. Run: tripwire employees recompute "+e.ID))
		fmt.Fprintln(out, cli.RenderBox("Risk Profile", strings.Join(lines, "\n")))
		return
	}

	comm := "no analyzed communications in window"
	if p.CommunicationComponent != nil {
		comm = fmt.Sprintf("%.1f over %d communications", *p.CommunicationComponent, p.CommunicationCount)
	}
	lines = append(lines,
		"",
		"Risk:       "+cli.FormatScore(p.RiskScore)+" "+cli.FormatRiskLevel(p.RiskLevel),
		"Comms:      "+comm,
		fmt.Sprintf("Violations: %.1f over %d open", p.ViolationComponent, p.ActiveViolationCount),
		"Updated:    "+p.LastUpdated.Local().Format(time.DateTime),
	)
	fmt.Fprintln(out, cli.RenderBox("Risk Profile", strings.Join(lines, "\n")))
}
