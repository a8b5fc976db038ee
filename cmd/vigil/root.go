package main

import (
	"github.com/spf13/cobra"

	"vigil/internal/config"
)

const defaultConfig = "./vigil.yaml"

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "vigil",
		Short:         "Priority task scheduler with health-gated emergency escalation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfig, "path to config file (json or yaml)")

	load := func() (*config.Config, error) { return config.NewManager(cfgPath).Load() }

	root.AddCommand(
		runCmd(&cfgPath),
		statusCmd(load),
		ledgerCmd(load),
		configCmd(load),
	)
	return root
}
