package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newConfigCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the prep configuration file",
		Long: `Read and write the configuration file.

Keys use dots, for example default.provider or providers.openai.model.
API keys are never stored here; set OLLAMA_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY.`,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newManager(afero.NewOsFs(), root)
			if err != nil {
				return err
			}
			if err := manager.Init(force); err != nil {
				return err
			}
			newPrinter(cmd, root, true, false).Success("Config written to %s", manager.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the config file, or the defaults when there is none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newManager(afero.NewOsFs(), root)
			if err != nil {
				return err
			}
			content, err := manager.Show()
			if err != nil {
				return err
			}
			if !manager.Exists() {
				newPrinter(cmd, root, true, false).Info("No config file at %s, showing defaults", manager.Path())
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newManager(afero.NewOsFs(), root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), manager.Path())
			return nil
		},
	}

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newManager(afero.NewOsFs(), root)
			if err != nil {
				return err
			}
			value, err := manager.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value in the config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := newManager(afero.NewOsFs(), root)
			if err != nil {
				return err
			}
			if err := manager.Set(args[0], args[1]); err != nil {
				return err
			}
			newPrinter(cmd, root, true, false).Success("Set %s = %s", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, pathCmd, getCmd, setCmd)
	return cmd
}
