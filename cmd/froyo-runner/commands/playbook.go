package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile-runner/pkg/engine"
	"github.com/openfroyo/reconcile-runner/pkg/runner"
	"github.com/openfroyo/reconcile-runner/pkg/script"
	"github.com/openfroyo/reconcile-runner/pkg/telemetry"
)

type playbookFlags struct {
	inventory string
	extraVars []string
	check     bool
	verbosity int

	// Accepted for ansible-playbook compatibility and ignored.
	remoteUser        string
	becomeUser        string
	becomeMethod      string
	vaultPasswordFile string
	vaultID           string
	startAtTask       string
	skipTags          string
	tags              string
	limit             string
	become            bool
	syntaxCheck       bool
	listTasks         bool
	listTags          bool
	listHosts         bool
	diff              bool
	askPass           bool
	askBecomePass     bool
	askVaultPass      bool
	forks             int
}

func newPlaybookCommand() *cobra.Command {
	var flags playbookFlags

	cmd := &cobra.Command{
		Use:   "playbook [ansible-playbook flags] <playbook>",
		Short: "Run a playbook as a desired-state reconcile or a script",
		Long: `Run a playbook file the way ansible-playbook would.

If the file carries a desired state (free text after the first "---"
separator, or any text besides the "hosts:" line), it is reconciled by the
engine and progress is written to stdout as AWX job events. Files that are
scripts ("async def run(") or hold no desired state are run by the script
runner, whose exit code is returned unchanged.

Flags that only make sense for classic playbooks are accepted and ignored.`,
		Example: `  # Reconcile a desired-state playbook against an inventory
  froyo-runner playbook -i inventory.ini site.yml

  # Same, invoked through an ansible-playbook symlink by AWX
  ansible-playbook -i inventory.ini -e @vars.yml -vv site.yml

  # Script playbook in check mode
  froyo-runner playbook -C -e env=staging deploy.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybook(cmd, args[0], flags)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.inventory, "inventory", "i", "", "inventory file or directory")
	f.StringArrayVarP(&flags.extraVars, "extra-vars", "e", nil, "extra variables (key=value, JSON/YAML, or @file)")
	f.BoolVarP(&flags.check, "check", "C", false, "run in check mode (dry run)")
	f.CountVarP(&flags.verbosity, "verbose", "v", "increase verbosity")

	f.StringVarP(&flags.remoteUser, "user", "u", "", "")
	f.StringVar(&flags.becomeUser, "become-user", "", "")
	f.StringVar(&flags.becomeMethod, "become-method", "", "")
	f.StringVar(&flags.vaultPasswordFile, "vault-password-file", "", "")
	f.StringVar(&flags.vaultID, "vault-id", "", "")
	f.StringVar(&flags.startAtTask, "start-at-task", "", "")
	f.StringVar(&flags.skipTags, "skip-tags", "", "")
	f.StringVarP(&flags.tags, "tags", "t", "", "")
	f.StringVarP(&flags.limit, "limit", "l", "", "")
	f.BoolVarP(&flags.become, "become", "b", false, "")
	f.BoolVar(&flags.syntaxCheck, "syntax-check", false, "")
	f.BoolVar(&flags.listTasks, "list-tasks", false, "")
	f.BoolVar(&flags.listTags, "list-tags", false, "")
	f.BoolVar(&flags.listHosts, "list-hosts", false, "")
	f.BoolVar(&flags.diff, "diff", false, "")
	f.BoolVar(&flags.askPass, "ask-pass", false, "")
	f.BoolVar(&flags.askBecomePass, "ask-become-pass", false, "")
	f.BoolVar(&flags.askVaultPass, "ask-vault-pass", false, "")
	f.IntVarP(&flags.forks, "forks", "f", 5, "")

	for _, name := range []string{
		"user", "become-user", "become-method", "vault-password-file", "vault-id",
		"start-at-task", "skip-tags", "tags", "limit", "become", "syntax-check",
		"list-tasks", "list-tags", "list-hosts", "diff", "ask-pass",
		"ask-become-pass", "ask-vault-pass", "forks",
	} {
		_ = f.MarkHidden(name)
	}

	return cmd
}

func runPlaybook(cmd *cobra.Command, playbookPath string, flags playbookFlags) error {
	extraVars, err := script.ParseExtraVars(flags.extraVars)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	ctx := a.context(cmd.Context())
	logger := telemetry.FromContext(ctx).NewComponentLogger("playbook").Zerolog()

	reconciler, err := engine.NewProcessReconciler(engine.ProcessConfig{
		Command: a.cfg.Engine.Command,
		Env:     envList(a.cfg.Engine.Env),
		Dir:     a.cfg.Engine.Dir,
		Timeout: a.cfg.Engine.Timeout.Std(),
		Stderr:  cmd.ErrOrStderr(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	scripts, err := script.NewProcessRunner(script.ProcessConfig{
		Command: a.cfg.Script.Command,
		Env:     envList(a.cfg.Script.Env),
		Stdout:  cmd.OutOrStdout(),
		Stderr:  cmd.ErrOrStderr(),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	runnerCfg := runner.Config{
		Reconciler: reconciler,
		Scripts:    scripts,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		PlayName:   a.cfg.Output.PlayName,
		JobID:      a.jobID(),
	}
	if a.store != nil {
		runnerCfg.Recorder = a.store
	}

	coordinator, err := runner.New(runnerCfg)
	if err != nil {
		return err
	}

	code := coordinator.Execute(ctx, runner.Options{
		PlaybookPath: playbookPath,
		Inventory:    flags.inventory,
		ExtraVars:    extraVars,
		CheckMode:    flags.check,
		Verbosity:    flags.verbosity,
	})

	return exitWith(code)
}
