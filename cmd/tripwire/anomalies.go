package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/tripwire/internal/cli"
	"github.com/spf13/cobra"
)

func anomaliesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anomalies",
		Short: "Find employees whose activity today departs from their baseline",
		Long: `Compare each active employee's email volume and after-hours activity today
with the preceding days. Anything more than anomaly.z_threshold standard
deviations from the mean is reported, largest deviation first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(a *app) error {
				anomalies, err := a.anomalies.Scan(cmd.Context(), time.Now())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(anomalies) == 0 {
					fmt.Fprintln(out, cli.FormatSuccess("No anomalies found"))
					return nil
				}

				rows := make([][]string, 0, len(anomalies))
				for _, an := range anomalies {
					direction := cli.WarningStyle.Render("spike")
					if !an.IsSpike() {
						direction = cli.InfoStyle.Render("drop")
					}
					rows = append(rows, []string{
						an.EmployeeID,
						string(an.Metric),
						fmt.Sprintf("%.0f", an.CurrentValue),
						fmt.Sprintf("%.1f ± %.1f", an.Mean, an.StdDev),
						fmt.Sprintf("%+.1f", an.ZScore),
						direction,
					})
				}
				fmt.Fprintln(out, cli.FormatTitle("Activity Anomalies"))
				fmt.Fprint(out, cli.RenderTable(
					[]string{"Employee", "Metric", "Today", "Baseline", "Z", "Direction"},
					rows,
				))
				return nil
			})
		},
	}
	return cmd
}
