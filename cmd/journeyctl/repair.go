package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/store"
)

func repairCmd(opts *globalOptions) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Report stored journeys that are not in canonical form",
		Long: `Scan every stored journey and report which needed a normalization strategy
to decode. With --write, rewrite them as canonical {"cards":[...]} JSON.
Unrecoverable payloads are reported and left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			results, err := st.RepairJourneys(cmd.Context(), write)
			if err != nil {
				return err
			}
			counts := map[store.RepairStatus]int{}
			out := cmd.OutOrStdout()
			for _, r := range results {
				counts[r.Status]++
				if r.Status == store.RepairCanonical || r.Status == store.RepairEmpty {
					continue
				}
				fmt.Fprintf(out, "%s %s (strategy=%s cards=%d)\n", statusLabel(r.Status), r.Name, r.Strategy, r.Cards)
			}
			fmt.Fprintf(out, "%d canonical, %d empty, %d need rewrite, %d rewritten, %d unrecoverable\n",
				counts[store.RepairCanonical], counts[store.RepairEmpty], counts[store.RepairNeeded],
				counts[store.RepairRewritten], counts[store.RepairUnrecoverable])
			if counts[store.RepairNeeded] > 0 && !write {
				fmt.Fprintln(out, "run with --write to rewrite")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Rewrite recoverable journeys in canonical form")
	return cmd
}

func statusLabel(s store.RepairStatus) string {
	switch s {
	case store.RepairRewritten:
		return color.New(color.FgHiGreen).Sprint("rewritten    ")
	case store.RepairNeeded:
		return color.New(color.FgYellow).Sprint("needs rewrite")
	case store.RepairUnrecoverable:
		return color.New(color.FgRed).Sprint("unrecoverable")
	default:
		return string(s)
	}
}
