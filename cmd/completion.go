package cmd

import (
	"github.com/spf13/cobra"
)

func newCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "completion <bash|zsh|fish|powershell>",
		Aliases: []string{"completions"},
		Short:   "Generate a shell completion script",
		Long: `Generate a completion script for your shell.

  bash:       source <(prep completion bash)
  zsh:        prep completion zsh > "${fpath[1]}/_prep"
  fish:       prep completion fish > ~/.config/fish/completions/prep.fish
  powershell: prep completion powershell | Out-String | Invoke-Expression`,
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			root := cmd.Root()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			default:
				return root.GenPowerShellCompletionWithDesc(out)
			}
		},
	}
}
