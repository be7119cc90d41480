package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hashbridge/fusion-resolver/internal/config"
	"github.com/hashbridge/fusion-resolver/internal/order"
	"github.com/hashbridge/fusion-resolver/internal/storage"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show persisted cursors and order counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		store, err := storage.Open(cfg.Global.DBPath)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer store.Close()

		cursors, err := store.ListCursors(ctx)
		if err != nil {
			return fmt.Errorf("list cursors: %w", err)
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHAIN\tSTART\tPROCESS\tFACTORY\tUPDATED")
		for _, cur := range cursors {
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
				cur.ChainID, cur.StartBlock, cur.ProcessBlock, cur.FactoryAddress,
				cur.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
		}
		if err := w.Flush(); err != nil {
			return err
		}

		counts, err := store.CountOrdersByStatus(ctx)
		if err != nil {
			return fmt.Errorf("count orders: %w", err)
		}
		if len(counts) == 0 {
			fmt.Fprintln(out, "\norders: none")
			return nil
		}

		statuses := make([]string, 0, len(counts))
		total := 0
		for st, n := range counts {
			statuses = append(statuses, string(st))
			total += n
		}
		sort.Strings(statuses)

		fmt.Fprintf(out, "\norders: %d\n", total)
		for _, st := range statuses {
			fmt.Fprintf(out, "- %s: %d\n", st, counts[order.Status(st)])
		}
		return nil
	},
}
