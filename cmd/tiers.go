package cmd

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newTiersCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show the pricing table and which agent uses each tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users := map[string][]string{}
			for name, ag := range map[string]string{
				"speech":       a.cfg.Agents.Speech.Tier,
				"content":      a.cfg.Agents.Content.Tier,
				"orchestrator": a.cfg.Agents.Orchestrator.Tier,
			} {
				users[ag] = append(users[ag], name)
			}

			p := a.cfg.LedgerPricing()
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tINPUT/1K\tOUTPUT/1K\tAGENTS")
			for _, name := range p.TierNames() {
				r := p.Tiers[name]
				agents := users[name]
				sort.Strings(agents)
				fmt.Fprintf(tw, "%s\t$%.5f\t$%.5f\t%s\n", name, r.InputPer1K, r.OutputPer1K, strings.Join(agents, ","))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\ntranscription: $%.4f per second\n", p.TranscriptionPerSecond)
			return nil
		},
	}
}
