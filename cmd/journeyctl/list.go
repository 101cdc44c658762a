package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/you/recurse-review/internal/httpapi"
	"github.com/you/recurse-review/internal/journey"
)

func listCmd(opts *globalOptions) *cobra.Command {
	var (
		limit   int
		pending bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recursers with message counts and journey sizes",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := opts.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			filters := httpapi.Filters{Limit: limit, Order: httpapi.OrderDesc}
			if pending {
				no := false
				filters.HasJourney = &no
			}
			people, err := st.ListPersons(cmd.Context(), filters)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSLUG\tMESSAGES\tCARDS\tJOURNEY UPDATED")
			for _, p := range people {
				cards := len(journey.Parse(p.Journey).Cards)
				cardsCell := fmt.Sprint(cards)
				if cards == 0 {
					cardsCell = color.New(color.FgYellow).Sprint("none")
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.Name, p.Slug(), p.MessageCount, cardsCell, formatWhen(p.JourneyUpdatedAt, p.Journey))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum rows (0 for all)")
	cmd.Flags().BoolVar(&pending, "pending", false, "Only recursers without a journey")
	return cmd
}

func formatWhen(t time.Time, payload string) string {
	if payload == "" {
		return color.New(color.FgHiBlack).Sprint("never")
	}
	return t.Local().Format("2006-01-02 15:04")
}
