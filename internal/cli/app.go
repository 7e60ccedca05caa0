package cli

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/yangwenmai/fieldbox/internal/config"
	"github.com/yangwenmai/fieldbox/internal/connectivity"
	"github.com/yangwenmai/fieldbox/internal/delivery"
	"github.com/yangwenmai/fieldbox/internal/logging"
	"github.com/yangwenmai/fieldbox/internal/outbox"
	"github.com/yangwenmai/fieldbox/internal/store"
	"github.com/yangwenmai/fieldbox/internal/transport"
	"github.com/yangwenmai/fieldbox/internal/worker"
)

// app is the core wired from configuration, shared by every command.
type app struct {
	cfg      config.Config
	logger   *logrus.Logger
	db       *sql.DB
	store    *store.Store
	protocol *delivery.Protocol
	signal   connectivity.Signal
	prober   *connectivity.Prober
	engine   *worker.Engine
	service  *outbox.Service
}

func loadConfig(opts *RootOptions) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if opts.Verbose {
		cfg.LogLevel = "debug"
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return cfg, nil, WrapExitError(ExitCommandError, "invalid logging configuration", err)
	}
	return cfg, logger, nil
}

// newApp opens the outbox and wires the core. The caller must call close.
func newApp(opts *RootOptions) (*app, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open outbox", err)
	}
	st, err := store.New(db)
	if err != nil {
		db.Close()
		return nil, WrapExitError(ExitCommandError, "failed to initialize outbox", err)
	}

	client := transport.NewClient(
		transport.WithTimeout(cfg.HTTPTimeout),
		transport.WithLogger(logger),
	)
	protocol := delivery.New(client,
		delivery.WithDefaultEndpoint(cfg.Endpoint),
		delivery.WithWriteAction(cfg.WriteAction),
		delivery.WithDefaultLot(delivery.Lot{Name: cfg.DefaultLot, Code: cfg.DefaultLotCode}),
		delivery.WithLogger(logger),
	)

	a := &app{cfg: cfg, logger: logger, db: db, store: st, protocol: protocol}
	if cfg.ProbeURL != "" {
		a.prober = connectivity.NewProber(cfg.ProbeURL, cfg.ProbeInterval, connectivity.WithProbeLogger(logger))
		a.signal = a.prober
	} else {
		a.signal = connectivity.NewManual(cfg.StartOnline)
	}

	a.engine = worker.New(st, protocol, a.signal,
		worker.WithInterval(cfg.SyncInterval),
		worker.WithStartupDelay(cfg.StartupDelay),
		worker.WithLogger(logger),
	)
	a.service = outbox.NewService(st, protocol, a.signal, a.engine, outbox.WithLogger(logger))
	return a, nil
}

// probeOnce refreshes a prober-backed signal before a one-shot command.
func (a *app) probeOnce(ctx context.Context) {
	if a.prober != nil {
		a.prober.Probe(ctx)
	}
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("error closing outbox")
	}
}
