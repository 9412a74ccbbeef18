package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/safelogger/internal/cli"
	"github.com/forest6511/safelogger/internal/config"
	"github.com/forest6511/safelogger/pkg/audit"
)

// EnvCompletion opts in to record name completion.
const EnvCompletion = config.EnvPrefix + "COMPLETION_ENABLED"

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(safelogger completion bash)

  # To load for each session (Linux):
  $ safelogger completion bash > ~/.local/share/bash-completion/completions/safelogger

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ safelogger completion zsh > ~/.zsh/completions/_safelogger

Fish:
  $ safelogger completion fish > ~/.config/fish/completions/safelogger.fish

PowerShell:
  PS> safelogger completion powershell >> $PROFILE

Dynamic completion (record names):
  Set SAFELOGGER_COMPLETION_ENABLED=1 and SAFELOGGER_PASSPHRASE to complete
  record names. Completion never prompts for the passphrase.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
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
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	// Commands taking a record name
	for _, c := range []*cobra.Command{showCmd, updateCmd, removeCmd, archiveCmd} {
		c.ValidArgsFunction = completeRecordNames
	}
}

// completeRecordNames provides record name completion (opt-in only).
func completeRecordNames(_ *cobra.Command, _ []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if os.Getenv(EnvCompletion) != "1" || os.Getenv(config.EnvPassphrase) == "" || cfg == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	names, err := recordNamesWithPrefix(toComplete)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}

// recordNamesWithPrefix unlocks with SAFELOGGER_PASSPHRASE and returns the
// record names starting with prefix, ignoring case.
func recordNamesWithPrefix(prefix string) ([]string, error) {
	session, err := cli.Open(cfg, logger, audit.SourceCLI)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	ok, err := session.Vault.Authenticate(os.Getenv(config.EnvPassphrase))
	if err != nil || !ok {
		return nil, err
	}

	records, err := session.Vault.ListRecords()
	if err != nil {
		return nil, err
	}

	var filtered []string
	lowerPrefix := strings.ToLower(prefix)
	for _, name := range cli.RecordNames(records) {
		if strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			filtered = append(filtered, name)
		}
	}
	return filtered, nil
}
