package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	jsonOutput bool

	buildVersion = "dev"
)

// PlaybookAlias is the executable name that routes arguments to the playbook command.
const PlaybookAlias = "ansible-playbook"

// Execute runs the root command with args.
func Execute(ctx context.Context, args []string, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// ArgsFor returns the command-line arguments for the root command. When the
// binary is invoked through the ansible-playbook alias, the arguments belong
// to the playbook command.
func ArgsFor(argv0 string, args []string) []string {
	name := strings.TrimSuffix(filepath.Base(argv0), filepath.Ext(argv0))
	if name == PlaybookAlias {
		return append([]string{"playbook"}, args...)
	}
	return args
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "froyo-runner",
		Short: "Run desired-state playbooks as AWX jobs",
		Long: `froyo-runner is an ansible-playbook compatible entry point for AWX job
templates.

Playbook files that carry a free-text desired state are handed to the
reconciliation engine, and its progress is reported as AWX job events on
stdout. Playbooks that are scripts are run unchanged by the script runner.

Exit codes:
  0  converged without task failures
  1  not converged, or the engine failed
  2  at least one task failed`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (.yaml or .cue)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newPlaybookCommand())
	rootCmd.AddCommand(newClassifyCommand())
	rootCmd.AddCommand(newDecodeCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
