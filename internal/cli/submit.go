package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/model"
	"github.com/yangwenmai/fieldbox/internal/outbox"
)

// SubmitOptions holds flags for the submit command.
type SubmitOptions struct {
	*RootOptions
	Offline bool
}

// NewSubmitCommand creates the submit command.
func NewSubmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SubmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "submit <record.json|->",
		Short: "Submit one record, queueing it if delivery is not possible",
		Long: `Submit one record read from a JSON file (or stdin with "-").

The record is delivered immediately when online. When offline, or when the
endpoint rejects it, it is stored in the outbox for a later drain.

Example:
  fieldbox submit record.json
  fieldbox submit --offline - < record.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "queue without attempting delivery")

	return cmd
}

func runSubmit(cmd *cobra.Command, opts *SubmitOptions, path string) error {
	sub, err := readSubmission(cmd.InOrStdin(), path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read record", err)
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	a.probeOnce(ctx)
	svc := a.service
	if opts.Offline {
		svc = outbox.NewService(a.store, a.protocol, connectivity.NewManual(false), a.engine, outbox.WithLogger(a.logger))
	}
	if sub.AppVersion == "" {
		sub.AppVersion = a.cfg.AppVersion
	}

	res, err := svc.SubmitNow(ctx, sub, outbox.Callbacks{})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to queue record", err)
	}

	return printer{format: opts.Format, w: cmd.OutOrStdout()}.print(res, func(w io.Writer) {
		if res.Sent {
			fmt.Fprintf(w, "sent %s\n", res.SubmissionID)
		} else {
			fmt.Fprintf(w, "queued %s\n", res.SubmissionID)
		}
	})
}

func readSubmission(stdin io.Reader, path string) (*model.Submission, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	var sub model.Submission
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if sub.User == "" || sub.PhotoBase64 == "" {
		return nil, fmt.Errorf("record needs usuario and foto_base64")
	}
	return &sub, nil
}
