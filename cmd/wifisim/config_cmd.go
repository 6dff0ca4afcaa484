package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/wifi-roaming-sim/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	var (
		scenario string
		format   string
	)
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default configuration of a scenario.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			cfg.Scenario = config.Scenario(scenario)
			if err := cfg.Validate(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "yaml", "yml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(cfg); err != nil {
					return err
				}
				return enc.Close()
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVar(&scenario, "scenario", string(config.ScenarioRoaming), "scenario kind: roaming or saturation")
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}
