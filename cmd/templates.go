package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/prepcli/prep/refiner"
	"github.com/prepcli/prep/templates"
)

func newTemplatesCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "List and apply prompt templates",
		Long: `Templates add an instruction describing the kind of request to the prompt.

Add your own, or override a bundled one, in templates.yaml next to the config file:

  templates:
    - name: sql
      description: Optimize for SQL queries
      prefix: "[SQL Request]"
      suffix: "Target PostgreSQL 16."`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, t := range a.catalog.List() {
				fmt.Fprintf(w, "%s\t%s\n", t.Name, t.Description)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			a.printer.Status("Use with: prep -t <name> \"your prompt\"")
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:               "show <name>",
		Short:             "Show a template's instruction text",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeTemplateNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, root)
			if err != nil {
				return err
			}
			t, ok := a.catalog.Lookup(args[0])
			if !ok {
				return &refiner.TemplateNotFoundError{Name: args[0], Available: a.catalog.Names()}
			}
			a.printer.Header(t.Name)
			if t.Description != "" {
				a.printer.KV("Description", t.Description)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Apply("<your prompt>"))
			return nil
		},
	}

	useFlags := &refineFlags{}
	useCmd := &cobra.Command{
		Use:               "use <name> [prompt...]",
		Short:             "Refine a prompt with a template",
		Example:           `  prep templates use debug "nil pointer in the session middleware"`,
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeTemplateNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			useFlags.template = args[0]
			return runRefine(cmd, root, useFlags, args[1:])
		},
	}
	bindRefineFlags(useCmd, useFlags)

	cmd.AddCommand(listCmd, showCmd, useCmd)
	return cmd
}

func completeTemplateNames(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return templates.Builtin().Names(), cobra.ShellCompDirectiveNoFileComp
}
