package main

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/report"
)

func newReportCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise the CSV traces of a finished run.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := report.FromDir(dir)
			if err != nil {
				return err
			}
			return summary.WriteText(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "output", "directory holding handover_events.csv, rssi_measurements.csv and flow_stats.csv")
	return cmd
}
