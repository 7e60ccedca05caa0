package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/fieldbox/internal/model"
)

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List queued records in drain order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.close()

			items, err := a.store.ListOrdered(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read outbox", err)
			}
			listed := make([]model.Submission, 0, len(items))
			for _, it := range items {
				listed = append(listed, it.WithoutPhoto())
			}

			out := printer{format: rootOpts.Format, w: cmd.OutOrStdout()}
			return out.print(listed, func(w io.Writer) { printItems(w, listed) })
		},
	}
}

func printItems(w io.Writer, items []model.Submission) {
	if len(items) == 0 {
		fmt.Fprintln(w, "outbox is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBMISSION\tCREATED\tUSER\tACTIVITY")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			it.SubmissionID, it.CreatedTime().Format(time.RFC3339), it.User, it.Activity)
	}
	tw.Flush()
}
