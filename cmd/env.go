package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/config"
	"github.com/sells-group/o2c-export/internal/db"
	"github.com/sells-group/o2c-export/internal/monitoring"
	"github.com/sells-group/o2c-export/internal/partition"
	"github.com/sells-group/o2c-export/internal/pipeline"
	"github.com/sells-group/o2c-export/internal/resilience"
	"github.com/sells-group/o2c-export/internal/store"
	"github.com/sells-group/o2c-export/internal/upload"
	"github.com/sells-group/o2c-export/internal/warehouse"
)

// exportEnv holds everything the export and serve commands share.
type exportEnv struct {
	Store    store.Store
	Alerter  *monitoring.Alerter
	Pipeline *pipeline.Pipeline
	Uploader upload.Uploader // may be nil
}

// Close releases resources held by the environment.
func (e *exportEnv) Close() {
	if e.Uploader != nil {
		if err := e.Uploader.Close(); err != nil {
			zap.L().Warn("close uploader", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the run history store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// exportOptions maps configuration onto pipeline options.
func exportOptions(c *config.Config) (pipeline.Options, error) {
	queries, err := pipeline.LoadQueries(c.Queries.Dir, c.Queries.OrderLevel, c.Queries.ItemLevel)
	if err != nil {
		return pipeline.Options{}, err
	}
	reg := partition.DefaultRegistry()
	overrides := make([]string, 0, len(c.Export.Providers))
	for key := range c.Export.Providers {
		overrides = append(overrides, key)
	}
	sort.Strings(overrides)
	for _, key := range overrides {
		if _, ok := reg.Lookup(key); !ok {
			return pipeline.Options{}, eris.Errorf("export.providers: unknown provider %q (known: %s)",
				key, strings.Join(reg.Keys(), ", "))
		}
	}
	reg = reg.WithFolders(c.Export.Providers)
	return pipeline.Options{
		Queries:          queries,
		Registry:         reg,
		Folders:          partition.Folders(c.Export.RootDir, c.Export.SharedRoot, reg),
		FileNameTemplate: c.Export.FileNameTemplate,
		BatchSize:        c.Export.BatchSize,
		UploadPrefix:     c.Upload.Prefix,
	}, nil
}

// warehouseDialer connects with the configured DSN and timeout, retrying
// transient connection failures.
func warehouseDialer(c config.WarehouseConfig) pipeline.Dialer {
	timeout := time.Duration(c.ConnectTimeoutSecs) * time.Second
	backoff := resilience.DefaultBackoff()
	backoff.Attempts = c.ConnectAttempts
	return func(ctx context.Context) (db.Conn, error) {
		conn, err := resilience.Retry(ctx, backoff, "warehouse.connect", nil, func(ctx context.Context) (*pgx.Conn, error) {
			return warehouse.Connect(ctx, c.DatabaseURL, timeout)
		})
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// initExport validates configuration for mode and wires the pipeline.
// Nothing connects to the warehouse until a run starts.
func initExport(ctx context.Context, mode string) (*exportEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	opts, err := exportOptions(cfg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &exportEnv{Store: st, Alerter: monitoring.NewAlerter(cfg.Monitoring)}

	if cfg.Upload.Enabled {
		up, err := upload.NewGCS(ctx, cfg.Upload.Bucket)
		if err != nil {
			env.Close()
			return nil, err
		}
		env.Uploader = up
		opts.Uploader = up
		zap.L().Info("gcs upload enabled", zap.String("bucket", cfg.Upload.Bucket))
	}

	env.Pipeline = pipeline.New(warehouseDialer(cfg.Warehouse), st, env.Alerter, opts)
	return env, nil
}
