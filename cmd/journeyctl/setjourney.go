package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/journey"
)

func setJourneyCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-journey <name> <file>",
		Short: `Store a {"cards":[...]} journey from a file ("-" for stdin)`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			j, err := journey.DecodeCards(data)
			if err != nil {
				return err
			}

			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.UpdateJourneyByName(cmd.Context(), args[0], journey.Canonical(j))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d cards for %s\n", color.New(color.FgHiGreen).Sprint("stored"), len(j.Cards), p.Name)
			return nil
		},
	}
}
