package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yangwenmai/fieldbox/internal/delivery"
)

// StubOptions holds flags for the stub command.
type StubOptions struct {
	*RootOptions
	Addr string
}

// NewStubCommand creates the stub command.
func NewStubCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StubOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Run an in-memory collection endpoint for development",
		Long: `Run an in-memory stand-in for the remote collection endpoint. It accepts
the upload and write actions and keeps one row per submission id.

Example:
  fieldbox stub --addr 127.0.0.1:9090
  FIELDBOX_ENDPOINT=http://127.0.0.1:9090 fieldbox serve`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, logger, err := loadConfig(opts.RootOptions)
			if err != nil {
				return err
			}
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:              opts.Addr,
				Handler:           delivery.NewStubEndpoint(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			logger.WithField("addr", opts.Addr).Info("stub endpoint listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return WrapExitError(ExitCommandError, "stub server error", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:9090", "listen address")

	return cmd
}
