package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile-runner/pkg/awx"
)

// decodedEvent is a job event together with its stdout text.
type decodedEvent struct {
	*awx.JobEvent
	Stdout string `json:"stdout,omitempty"`
}

func newDecodeCommand() *cobra.Command {
	var textOnly bool

	cmd := &cobra.Command{
		Use:   "decode [file]",
		Short: "Decode a captured job event stream",
		Long: `Extract the job events from a captured stdout stream.

Each event is printed as one JSON line. With --text, only the human-readable
output between the envelopes is printed, as a terminal would show it.
Reads stdin when no file is given.`,
		Example: `  froyo-runner playbook site.yml > job.out
  froyo-runner decode job.out
  froyo-runner decode --text < job.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read event stream: %w", err)
			}

			events, err := awx.ParseStream(data)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if textOnly {
				for _, ev := range events {
					if _, err := io.WriteString(out, ev.Stdout); err != nil {
						return err
					}
				}
				return nil
			}

			enc := json.NewEncoder(out)
			enc.SetEscapeHTML(false)
			for _, ev := range events {
				if err := enc.Encode(decodedEvent{JobEvent: ev, Stdout: ev.Stdout}); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&textOnly, "text", false, "print only the stdout text of each event")

	return cmd
}
