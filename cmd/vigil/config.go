package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vigil/internal/config"
)

func configCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the config file and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d task(s), ledger driver %q\n", len(cfg.Scheduler.Tasks), driverName(cfg.Ledger.Driver))
			return nil
		},
	})
	return cmd
}

func driverName(d string) string {
	if d == "" {
		return "file"
	}
	return d
}
