package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vigil/internal/app"
	"vigil/internal/config"
)

func statusCmd(load func() (*config.Config, error)) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the last status written by a running vigil",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			doc, err := app.ReadStatus(app.StatusPath(cfg))
			if err != nil {
				return fmt.Errorf("read status: %w", err)
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			printStatus(out, doc, time.Now())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status document")
	return cmd
}

func printStatus(w io.Writer, doc app.StatusDoc, now time.Time) {
	age := now.Sub(doc.LastUpdate).Round(time.Second)
	fmt.Fprintf(w, "state:      %s (%s)\n", doc.State, doc.Label)
	fmt.Fprintf(w, "health:     %.1f\n", doc.Health)
	fmt.Fprintf(w, "cpu/mem:    %.1f%% / %.1f%% (disk %.1f%%)\n", doc.CPU, doc.Memory, doc.Disk)
	fmt.Fprintf(w, "activity:   %s ago\n", doc.SinceActivity)
	fmt.Fprintf(w, "errors:     %d in window\n", doc.ErrorCount)
	if doc.LastDistress != nil {
		fmt.Fprintf(w, "distress:   %s at %s\n", doc.LastDistress.Reason, doc.LastDistress.Time.Format(time.RFC3339))
	}
	if len(doc.Channels) > 0 {
		fmt.Fprintf(w, "channels:   %s\n", strings.Join(doc.Channels, ", "))
	}
	fmt.Fprintf(w, "updated:    %s (%s ago)\n\n", doc.LastUpdate.Format(time.RFC3339), age)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tPRIORITY\tNEXT\tLAST RUN\tRUNS\tFAILS")
	for _, t := range doc.Tasks {
		last := "-"
		if !t.LastRunAt.IsZero() {
			last = t.LastRunAt.Format(time.TimeOnly)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\n", t.ID, t.Priority, t.DueAt.Format(time.TimeOnly), last, t.Runs, t.Failures)
	}
	_ = tw.Flush()
}
