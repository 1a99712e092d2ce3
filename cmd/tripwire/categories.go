package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Veraticus/tripwire/internal/category"
	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/Veraticus/tripwire/internal/model"
	"github.com/spf13/cobra"
)

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "Manage threat categories",
		Long: `Threat categories define the keywords, patterns, multipliers and thresholds
every communication is evaluated against.`,
	}

	cmd.AddCommand(listCategoriesCmd())
	cmd.AddCommand(importCategoriesCmd())
	cmd.AddCommand(seedCategoriesCmd())
	cmd.AddCommand(setCategoryActiveCmd("activate", true))
	cmd.AddCommand(setCategoryActiveCmd("deactivate", false))

	return cmd
}

func listCategoriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List threat categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			all, _ := cmd.Flags().GetBool("all")
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			defs, err := category.NewManager(store).List(ctx, !all)
			if err != nil {
				return fmt.Errorf("failed to list categories: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(defs) == 0 {
				fmt.Fprintln(out, cli.FormatWarning("No categories found"))
				fmt.Fprintln(out, cli.InfoStyle.Render("Load the predefined set with: tripwire categories seed"))
				return nil
			}

			rows := make([][]string, 0, len(defs))
			for _, def := range defs {
				c := def.Category
				state := cli.SuccessStyle.Render("active")
				if !c.IsActive {
					state = cli.SubtleStyle.Render("inactive")
				}
				rows = append(rows, []string{
					strconv.Itoa(c.ID),
					c.Name,
					cli.FormatSeverity(c.Severity),
					fmt.Sprintf("%.0f", c.BaseRiskScore),
					fmt.Sprintf("%.0f/%.0f/%.0f", c.Thresholds.Alert, c.Thresholds.Investigation, c.Thresholds.Critical),
					strconv.Itoa(len(def.Keywords)),
					patternSummary(&c),
					state,
				})
			}

			fmt.Fprintln(out, cli.FormatTitle("Threat Categories"))
			fmt.Fprint(out, cli.RenderTable(
				[]string{"ID", "Name", "Severity", "Base", "Thresholds", "Keywords", "Patterns", "State"},
				rows,
			))
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "Include inactive categories")
	return cmd
}

func importCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update categories from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := category.LoadFile(args[0])
			if err != nil {
				return err
			}
			return saveCategories(cmd, defs)
		},
	}
}

func seedCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the predefined threat categories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defs, err := category.Defaults()
			if err != nil {
				return err
			}
			return saveCategories(cmd, defs)
		},
	}
}

func saveCategories(cmd *cobra.Command, defs []model.CategoryDefinition) error {
	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	saved, err := category.NewManager(store).Import(ctx, defs)
	if err != nil {
		return fmt.Errorf("saved %d of %d categories: %w", saved, len(defs), err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Saved %d categories", saved)))
	return nil
}

func setCategoryActiveCmd(use string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return fmt.Errorf("failed to initialize storage: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := category.NewManager(store).SetActive(ctx, args[0], active); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Category %q %sd", args[0], use)))
			return nil
		},
	}
}

func patternSummary(c *model.ThreatCategory) string {
	groups := c.SortedPatternGroups()
	if len(groups) == 0 {
		return "-"
	}
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = string(g)
	}
	return strings.Join(names, ",")
}
