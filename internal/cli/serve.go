package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/fieldbox/internal/api"
	"github.com/yangwenmai/fieldbox/internal/assets"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the outbox daemon and local API",
		Long: `Run the sync engine and the local HTTP API used by the form UI.

The engine drains the outbox when connectivity is restored, on a fixed
interval, and once shortly after startup.

Example:
  fieldbox serve
  fieldbox serve --addr 127.0.0.1:9000 --config fieldbox.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides FIELDBOX_ADDR)")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.logger

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := a.cfg.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	apiOpts := []api.Option{
		api.WithLogger(log),
		api.WithAppVersion(a.cfg.AppVersion),
		api.WithCORSOrigins(a.cfg.CORSOrigins),
	}
	if a.cfg.AssetOrigin != "" {
		cache, err := assets.New(assets.Config{
			Origin:      a.cfg.AssetOrigin,
			Dir:         a.cfg.AssetDir,
			Version:     a.cfg.AssetVersion,
			OfflinePage: a.cfg.OfflinePage,
		}, assets.WithLogger(log))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid asset cache configuration", err)
		}
		if _, err := cache.Install(ctx); err != nil {
			log.WithError(err).Warn("asset cache install failed")
		}
		if err := cache.Activate(); err != nil {
			log.WithError(err).Warn("asset cache activate failed")
		}
		apiOpts = append(apiOpts, api.WithAssets(cache))
	}

	gin.SetMode(gin.ReleaseMode)
	srv := api.New(a.service, a.store, a.engine, a.signal, apiOpts...)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.prober != nil {
		g.Go(func() error { return a.prober.Run(ctx) })
	}
	g.Go(func() error { return a.engine.Run(ctx) })
	g.Go(func() error {
		log.WithField("addr", addr).Info("fieldbox listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	return nil
}
