package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/journey"
)

func showCmd(opts *globalOptions) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Print the repaired journey cards for a recurser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			p, err := st.GetPersonByName(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				p, err = st.GetPersonBySlug(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}
			if p == nil {
				return fmt.Errorf("no recurser named %q", args[0])
			}

			out := cmd.OutOrStdout()
			if raw {
				fmt.Fprintln(out, p.Journey)
				return nil
			}
			j, strategy, err := journey.ParseWithStrategy(p.Journey)
			heading := color.New(color.Bold)
			fmt.Fprintf(out, "%s (%d messages)\n", heading.Sprint(p.Name), p.MessageCount)
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", color.New(color.FgRed).Sprint("unrecoverable:"), err)
				return nil
			}
			if strategy != journey.StrategyDirect && strategy != journey.StrategyEmpty {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgYellow).Sprint("recovered with"), strategy)
			}
			for i, c := range j.Cards {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgCyan).Sprintf("[%d]", i+1), c)
			}
			if len(j.Cards) == 0 {
				fmt.Fprintln(out, "no cards")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the stored payload without repair")
	return cmd
}
