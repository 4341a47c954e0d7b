package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile-runner/pkg/desiredstate"
)

func newClassifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <playbook>",
		Short: "Show how a playbook file would be run",
		Long: `Classify a playbook file without running it.

Prints the desired state that would be handed to the engine, or "script"
when the file would be delegated to the script runner.`,
		Example: `  froyo-runner classify site.yml
  froyo-runner classify --json site.yml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			classification, err := desiredstate.ClassifyFile(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(classification)
			}

			if classification.Kind == desiredstate.KindScript {
				_, err = fmt.Fprintln(out, desiredstate.KindScript)
				return err
			}
			_, err = fmt.Fprintln(out, classification.DesiredState)
			return err
		},
	}

	return cmd
}
