package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/bluecarbon/registry/config"
	"github.com/bluecarbon/registry/contract"
	"github.com/bluecarbon/registry/credit"
	"github.com/bluecarbon/registry/ledger"
	"github.com/bluecarbon/registry/ledger/store"
	"github.com/bluecarbon/registry/metrics"
	"github.com/bluecarbon/registry/store/postgres"
	"github.com/bluecarbon/registry/store/sqlite"
)

// app is everything a command needs, built once from config and flags.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ledger.Store
	closer   io.Closer
	metrics  *metrics.Collector
	registry *credit.Registry
	contract *contract.Contract
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

// loadConfig reads --config and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Store.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Lookup("addr") != nil && flags.Changed("addr") {
		cfg.Server.Addr, _ = flags.GetString("addr")
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg config.StoreConfig) (ledger.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nopCloser{}, nil
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	st, closer, err := openStore(commandContext(cmd), cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Driver, err)
	}

	collector := metrics.New()
	registry := credit.NewRegistry(st,
		credit.WithLogger(logger),
		credit.WithObserver(collector),
		credit.WithEngine(&credit.Engine{ExpiryYears: cfg.Credit.ExpiryYears}),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		closer:   closer,
		metrics:  collector,
		registry: registry,
		contract: contract.New(registry),
	}, nil
}
