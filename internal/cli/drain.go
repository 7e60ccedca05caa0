package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/fieldbox/internal/worker"
)

// NewDrainCommand creates the drain command.
func NewDrainCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass over the outbox",
		Long: `Run one drain pass: deliver queued records oldest first, removing each
after the endpoint confirms it. The pass stops at the first failure.

Exits with status 1 when the pass stopped early or could not start.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			a.probeOnce(cmd.Context())
			rep, started := a.engine.Drain(cmd.Context())
			if !started {
				return NewExitError(ExitFailure, "drain not started: offline")
			}

			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			if err := out.print(rep, func(w io.Writer) { printReport(w, rep) }); err != nil {
				return err
			}
			if rep.Stopped != "" {
				return NewExitError(ExitFailure, "drain stopped: "+rep.Stopped)
			}
			return nil
		},
	}
}

func printReport(w io.Writer, rep worker.Report) {
	fmt.Fprintf(w, "attempted %d, delivered %d, remaining %d", rep.Attempted, rep.Delivered, rep.Remaining)
	if rep.Stopped != "" {
		fmt.Fprintf(w, " (stopped: %s)", rep.Stopped)
	}
	fmt.Fprintln(w)
}
