package commands

import (
	"os"

	"github.com/spf13/cobra"
)

func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate the autocompletion script for the specified shell",
		Long: `To load completions:

Bash:
  $ source <(ctlynx completion bash)
  # To load automatically on new shells, run:
  $ ctlynx completion bash > /etc/bash_completion.d/ctlynx

Zsh:
  $ ctlynx completion zsh > "${fpath[1]}/_ctlynx"

Fish:
  $ ctlynx completion fish | source

PowerShell:
  PS> ctlynx completion powershell | Out-String | Invoke-Expression
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return cobra.ErrSubCommandRequired
			}
		},
	}
	return cmd
}
