package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"chainrig/internal/journal"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd prints the switch journal
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent switches from the journal",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of switches to show")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if cfg.Journal.Path == "" {
		return fmt.Errorf("journal disabled (set journal.path)")
	}

	j, err := journal.Open(cmd.Context(), cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No switches recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tOUTCOME\tFROM\tTO")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.At.Format(time.DateTime), e.Outcome, dash(e.Previous), dash(e.Current))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
