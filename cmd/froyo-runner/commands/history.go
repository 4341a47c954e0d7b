package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/reconcile-runner/pkg/config"
	"github.com/openfroyo/reconcile-runner/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit      int
		showEvents bool
	)

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List recent runs from the run-history database, or show one run's
host outcomes and, with --events, its job events.

Run history is recorded only when store.path (or ` + config.EnvStorePath + `)
is set.`,
		Example: `  froyo-runner history
  froyo-runner history --limit 5 --json
  froyo-runner history 3f1c2a5e-... --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(cmd.Context())

			if a.store == nil {
				return fmt.Errorf("run history is disabled: set store.path or %s", config.EnvStorePath)
			}

			ctx := a.context(cmd.Context())
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				runs, err := a.store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, runs)
				}
				return printRuns(out, runs)
			}

			run, err := a.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			outcomes, err := a.store.ListHostOutcomes(ctx, run.ID)
			if err != nil {
				return err
			}

			var events []*stores.JobEvent
			if showEvents {
				events, err = a.store.ListJobEvents(ctx, run.ID)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return writeJSON(out, struct {
					Run      *stores.Run           `json:"run"`
					Outcomes []*stores.HostOutcome `json:"host_outcomes"`
					Events   []*stores.JobEvent    `json:"events,omitempty"`
				}{run, outcomes, events})
			}
			return printRun(out, run, outcomes, events)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	cmd.Flags().BoolVar(&showEvents, "events", false, "include job events")

	return cmd
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRuns(w io.Writer, runs []*stores.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMODE\tSTATUS\tEXIT\tSTARTED\tPLAYBOOK")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.Mode,
			run.Status,
			optionalInt(run.ExitCode),
			run.StartedAt.UTC().Format(time.RFC3339),
			run.PlaybookPath,
		)
	}
	return tw.Flush()
}

func printRun(w io.Writer, run *stores.Run, outcomes []*stores.HostOutcome, events []*stores.JobEvent) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.ID)
	fmt.Fprintf(tw, "Playbook:\t%s\n", run.PlaybookPath)
	fmt.Fprintf(tw, "Mode:\t%s\n", run.Mode)
	fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	fmt.Fprintf(tw, "Exit code:\t%s\n", optionalInt(run.ExitCode))
	if run.Converged != nil {
		fmt.Fprintf(tw, "Converged:\t%t\n", *run.Converged)
	}
	fmt.Fprintf(tw, "Started:\t%s\n", run.StartedAt.UTC().Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Fprintf(tw, "Completed:\t%s\n", run.CompletedAt.UTC().Format(time.RFC3339))
	}
	if run.Error != nil {
		fmt.Fprintf(tw, "Error:\t%s\n", *run.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(outcomes) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "HOST\tOK\tCHANGED\tFAILED\tSKIPPED\tRESCUED\tIGNORED")
		for _, o := range outcomes {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
				o.Host, o.OK, o.Changed, o.Failures, o.Skipped, o.Rescued, o.Ignored)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		fmt.Fprintln(w)
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tEVENT\tUUID\tCREATED")
		for _, ev := range events {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ev.Counter, ev.Event, ev.UUID, ev.Created)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func optionalInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}
