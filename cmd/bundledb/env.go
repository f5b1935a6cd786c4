package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/orneryd/bundledb/pkg/bundle"
	"github.com/orneryd/bundledb/pkg/config"
	"github.com/orneryd/bundledb/pkg/idgen"
	"github.com/orneryd/bundledb/pkg/logging"
	"github.com/orneryd/bundledb/pkg/persistence"
	"github.com/orneryd/bundledb/pkg/storage"
	"github.com/orneryd/bundledb/pkg/storage/sqlstore"
)

// env is what every store-touching command needs.
type env struct {
	cfg      *config.Config
	log      *zap.Logger
	gen      idgen.Generator
	store    storage.Store
	registry *prometheus.Registry
	metrics  *persistence.Metrics
	// metricsFile receives the registry in text format on finish
	metricsFile string
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("backend"); v != "" {
		cfg.Storage.Backend = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("dsn"); v != "" {
		cfg.Storage.DSN = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openEnv(cmd *cobra.Command, withStore bool) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	gen, err := cfg.Generator()
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log, gen: gen}

	e.metricsFile, _ = cmd.Flags().GetString("metrics-file")
	if cfg.Metrics.Enabled || e.metricsFile != "" {
		e.registry = prometheus.NewRegistry()
		if e.metrics, err = persistence.NewMetrics(e.registry, cfg.Metrics.Namespace); err != nil {
			return nil, err
		}
	}

	if withStore {
		if e.store, err = openStore(cmd.Context(), cfg, log); err != nil {
			return nil, err
		}
		log.Debug("store opened", zap.Stringer("config", cfg))
	}
	return e, nil
}

// finish writes the metrics file, if one was asked for, and closes the
// store. The first error is stored in errp unless it already holds one.
// Metrics are written even when the command failed.
func (e *env) finish(errp *error) {
	var err error
	if e.metricsFile != "" && e.registry != nil {
		if werr := prometheus.WriteToTextfile(e.metricsFile, e.registry); werr != nil {
			err = multierr.Append(err, fmt.Errorf("writing metrics: %w", werr))
		}
	}
	if e.store != nil {
		if cerr := e.store.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing store: %w", cerr))
		}
	}
	_ = e.log.Sync()
	if *errp == nil {
		*errp = err
	}
}

func (e *env) persister(tx storage.Tx) *persistence.Persister {
	return persistence.New(tx,
		persistence.WithGenerator(e.gen),
		persistence.WithLogger(e.log),
		persistence.WithMetrics(e.metrics),
		persistence.WithMaxDepth(e.cfg.Storage.MaxDepth),
	)
}

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryEngine(), nil
	case config.BackendBadger:
		return storage.NewBadgerEngineWithOptions(storage.BadgerOptions{
			DataDir:    cfg.Storage.DataDir,
			InMemory:   cfg.Storage.InMemory,
			SyncWrites: cfg.Storage.SyncWrites,
			Logger:     badgerLogger{log.Named("badger").Sugar()},
		})
	case config.BackendSQLite:
		path := ":memory:"
		if !cfg.Storage.InMemory {
			path = filepath.Join(cfg.Storage.DataDir, "bundledb.sqlite")
		}
		return sqlstore.OpenSQLite(ctx, path)
	case config.BackendPostgres:
		return sqlstore.OpenPostgres(ctx, cfg.Storage.DSN)
	}
	return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

// readBundle decodes one bundle from the named file, or stdin for "" or "-".
func readBundle(cmd *cobra.Command, args []string) (bundle.Bundle, error) {
	r, closeFn, err := openInput(cmd, args)
	if err != nil {
		return bundle.Bundle{}, err
	}
	defer closeFn()
	data, err := io.ReadAll(r)
	if err != nil {
		return bundle.Bundle{}, err
	}
	return bundle.FromJSON(data)
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}
