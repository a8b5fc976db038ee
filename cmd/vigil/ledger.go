package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"vigil/internal/app"
	"vigil/internal/config"
	"vigil/internal/ledger"
	logx "vigil/pkg/logx"
)

func ledgerCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the activity ledger",
	}
	cmd.AddCommand(ledgerTailCmd(load), ledgerListCmd(load))
	return cmd
}

func openLedger(load func() (*config.Config, error)) (ledger.Store, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	lc, err := app.LedgerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return ledger.Open(lc, logx.Nop())
}

func ledgerTailCmd(load func() (*config.Config, error)) *cobra.Command {
	var (
		n      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "tail <component>",
		Short: "Print the newest records of a component (cognitive, emergency, tasks)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openLedger(load)
			if err != nil {
				return err
			}
			defer st.Close()

			recs, err := st.Records(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, asJSON)
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "number of records")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON lines")
	return cmd
}

func ledgerListCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List ledger components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openLedger(load)
			if err != nil {
				return err
			}
			defer st.Close()

			names, err := st.Components(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func printRecords(w io.Writer, recs []ledger.Record, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	for _, r := range recs {
		line := r.Time.Format("2006-01-02 15:04:05") + "  " + r.Description
		if len(r.Context) > 0 {
			b, err := json.Marshal(r.Context)
			if err == nil {
				line += "  " + string(b)
			}
		}
		fmt.Fprintln(w, line)
	}
	return nil
}
