package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/prepcli/prep/history"
	"github.com/prepcli/prep/ui"
	"github.com/prepcli/prep/utils"
)

func newHistoryCommand(root *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Browse past refinements",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "print entries as JSON")

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent refinements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, root, func(ctx context.Context, a *app, store *history.Store) error {
				entries, err := store.List(ctx, limit)
				if err != nil {
					return err
				}
				return printEntries(cmd, a, entries, asJSON)
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of entries to show")

	showCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one refinement in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid history id '%s'", args[0])
			}
			return withHistory(cmd, root, func(ctx context.Context, a *app, store *history.Store) error {
				entry, err := store.Get(ctx, id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entry)
				}
				printEntry(a, entry)
				return nil
			})
		},
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search original and refined prompts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, root, func(ctx context.Context, a *app, store *history.Store) error {
				entries, err := store.Search(ctx, strings.Join(args, " "))
				if err != nil {
					return err
				}
				return printEntries(cmd, a, entries, asJSON)
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all history entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(cmd, root, func(ctx context.Context, a *app, store *history.Store) error {
				if !yes {
					if !isTerminal(cmd.InOrStdin()) {
						return errors.New("refusing to clear history without confirmation; pass --yes")
					}
					if !ui.Confirm("Delete all history entries", os.Stdin) {
						a.printer.Info("Cancelled")
						return nil
					}
				}
				n, err := store.Clear(ctx)
				if err != nil {
					return err
				}
				a.printer.Success("Deleted %d entries", n)
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(listCmd, showCmd, searchCmd, clearCmd)
	return cmd
}

func withHistory(cmd *cobra.Command, root *rootOptions, fn func(ctx context.Context, a *app, store *history.Store) error) error {
	a, err := newApp(cmd, root)
	if err != nil {
		return err
	}
	defer func() { _ = a.logger.Sync() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := history.Open(ctx, a.config.HistoryPath(a.manager))
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, a, store)
}

func printEntries(cmd *cobra.Command, a *app, entries []history.Entry, asJSON bool) error {
	if asJSON {
		return writeJSON(cmd, entries)
	}
	if len(entries) == 0 {
		a.printer.Info("No history entries")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tPROVIDER\tPROMPT")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n",
			e.ID,
			e.CreatedAt.Local().Format("2006-01-02 15:04"),
			e.Provider,
			utils.Truncate(oneLine(e.OriginalPrompt), 60))
	}
	return w.Flush()
}

func printEntry(a *app, e *history.Entry) {
	p := a.printer
	p.Header(fmt.Sprintf("Refinement #%d", e.ID))
	p.KV("Date", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	p.KV("Provider", e.Provider)
	p.KV("Model", e.Model)
	if e.Template != "" {
		p.KV("Template", e.Template)
	}
	p.KV("Latency", fmt.Sprintf("%dms", e.LatencyMs))
	p.Boxed(e.OriginalPrompt, "Original")
	for _, ex := range e.Clarifications {
		p.KV(fmt.Sprintf("Q%d", ex.Round), ex.Question)
		p.KV(fmt.Sprintf("A%d", ex.Round), ex.Answer)
	}
	fmt.Fprintln(p.Out(), e.RefinedPrompt)
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
