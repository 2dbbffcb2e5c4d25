// Package pipeline orchestrates one orders-to-cash export: extraction,
// key staging, merge and pivot, then the per-provider CSV export.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/db"
	"github.com/sells-group/o2c-export/internal/frame"
	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/partition"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/progress"
	"github.com/sells-group/o2c-export/internal/store"
	"github.com/sells-group/o2c-export/internal/transform"
	"github.com/sells-group/o2c-export/internal/upload"
	"github.com/sells-group/o2c-export/internal/warehouse"
)

// Stage names, in execution order.
const (
	StageConnect    = "connect"
	StageOrderQuery = "order_query"
	StageStageKeys  = "stage_keys"
	StageItemQuery  = "item_query"
	StageTransform  = "transform"
	StageClose      = "close"
	StageExport     = "export"
	StageUpload     = "upload"
)

// Dialer opens a warehouse session.
type Dialer func(ctx context.Context) (db.Conn, error)

// Notifier is told about failed runs.
type Notifier interface {
	RunFailed(ctx context.Context, run *model.Run, stage string, cause error) error
}

// Queries holds the two SQL templates.
type Queries struct {
	OrderLevel string
	ItemLevel  string
}

// LoadQueries reads both templates from dir.
func LoadQueries(dir, orderLevel, itemLevel string) (Queries, error) {
	order, err := warehouse.LoadTemplate(dir, orderLevel)
	if err != nil {
		return Queries{}, err
	}
	item, err := warehouse.LoadTemplate(dir, itemLevel)
	if err != nil {
		return Queries{}, err
	}
	return Queries{OrderLevel: order, ItemLevel: item}, nil
}

// Options configures a Pipeline.
type Options struct {
	Queries          Queries
	Registry         partition.Registry
	Folders          map[string]string
	FileNameTemplate string
	BatchSize        int

	// Uploader, when set, copies every written file to object storage.
	Uploader     upload.Uploader
	UploadPrefix string
}

// Pipeline runs exports.
type Pipeline struct {
	dial     Dialer
	store    store.Store
	notifier Notifier
	opts     Options
	exec     *warehouse.Executor
}

// New creates a Pipeline. notifier may be nil.
func New(dial Dialer, st store.Store, notifier Notifier, opts Options) *Pipeline {
	if opts.Registry == nil {
		opts.Registry = partition.DefaultRegistry()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = warehouse.DefaultBatchSize
	}
	return &Pipeline{
		dial:     dial,
		store:    st,
		notifier: notifier,
		opts:     opts,
		exec:     warehouse.NewExecutor(),
	}
}

// Run records a new run for per and executes it.
func (p *Pipeline) Run(ctx context.Context, per period.Period, trigger model.Trigger, sink progress.Sink) (*model.Run, *model.RunResult, error) {
	run, err := p.store.CreateRun(ctx, per.Month(), trigger)
	if err != nil {
		return nil, nil, eris.Wrap(err, "pipeline: create run")
	}
	result, err := p.Execute(ctx, run, per, sink)
	return run, result, err
}

// Execute drives an already recorded run to a terminal status. The warehouse
// session is always closed, and is closed before any file is written.
func (p *Pipeline) Execute(ctx context.Context, run *model.Run, per period.Period, sink progress.Sink) (*model.RunResult, error) {
	log := zap.L().With(
		zap.String("component", "pipeline"),
		zap.String("run_id", run.ID),
		zap.String("period", per.Month()),
	)
	result := &model.RunResult{}
	start := time.Now()

	setStatus := func(status model.RunStatus) {
		if err := p.store.UpdateRunStatus(ctx, run.ID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
		}
		run.Status = status
	}

	trackStage := func(name string, fn func() (int, error)) error {
		stage, stageErr := p.store.CreateStage(ctx, run.ID, name)
		if stageErr != nil {
			log.Warn("pipeline: failed to create stage", zap.String("stage", name), zap.Error(stageErr))
		}

		began := time.Now()
		rows, fnErr := fn()
		sr := model.StageResult{
			Name:       name,
			Status:     model.StageStatusComplete,
			Rows:       rows,
			DurationMS: time.Since(began).Milliseconds(),
		}
		if fnErr != nil {
			sr.Status = model.StageStatusFailed
			sr.Error = fnErr.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", sr.DurationMS),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int("rows", rows),
				zap.Int64("duration_ms", sr.DurationMS),
			)
		}

		if stage != nil {
			if err := p.store.CompleteStage(ctx, stage.ID, &sr); err != nil {
				log.Warn("pipeline: failed to complete stage", zap.String("stage", name), zap.Error(err))
			}
		}
		result.Stages = append(result.Stages, sr)
		return fnErr
	}

	var conn db.Conn
	closeConn := func() error {
		if conn == nil {
			return nil
		}
		c := conn
		conn = nil
		return c.Close(context.WithoutCancel(ctx))
	}

	fail := func(stage string, cause error) (*model.RunResult, error) {
		if err := closeConn(); err != nil {
			log.Warn("pipeline: close after failure", zap.Error(err))
		}
		result.Error = cause.Error()
		progress.Errorf(sink, "%s failed: %v", stage, cause)

		// Failure bookkeeping must survive a cancelled caller.
		bg := context.WithoutCancel(ctx)
		if err := p.store.UpdateRunResult(bg, run.ID, result); err != nil {
			log.Error("pipeline: failed to record failure", zap.Error(err))
		}
		run.Status = model.RunStatusFailed
		run.Error = result.Error
		run.Result = result
		if p.notifier != nil {
			if err := p.notifier.RunFailed(bg, run, stage, cause); err != nil {
				log.Warn("pipeline: failure alert not sent", zap.Error(err))
			}
		}
		return result, eris.Wrapf(cause, "pipeline: %s", stage)
	}

	progress.Emitf(sink, "Exporting %s (%s)", per.Label(), per)

	// Connect.
	err := trackStage(StageConnect, func() (int, error) {
		progress.Emitf(sink, "Connecting to warehouse...")
		c, err := p.dial(ctx)
		if err != nil {
			return 0, err
		}
		conn = c
		return 0, nil
	})
	if err != nil {
		return fail(StageConnect, err)
	}
	setStatus(model.RunStatusConnected)

	// Order-level extraction.
	var orders *frame.Table
	err = trackStage(StageOrderQuery, func() (int, error) {
		progress.Emitf(sink, "Running order-level query for %s", per)
		sql := warehouse.Render(p.opts.Queries.OrderLevel, map[string]string{
			warehouse.PlaceholderStartDate: per.StartDate(),
			warehouse.PlaceholderEndDate:   per.EndDate(),
		})
		t, err := p.exec.Query(ctx, conn, sql)
		if err != nil {
			return 0, err
		}
		if err := warehouse.RequireColumns(t, "order-level", transform.OrderColumns...); err != nil {
			return t.Len(), err
		}
		orders = t
		result.OrderRows = t.Len()
		progress.Emitf(sink, "Order-level query returned %d rows", t.Len())
		return t.Len(), nil
	})
	if err != nil {
		return fail(StageOrderQuery, err)
	}
	setStatus(model.RunStatusOrderQueryDone)

	// Key staging.
	var keyFilter string
	err = trackStage(StageStageKeys, func() (int, error) {
		keys, err := warehouse.DistinctKeys(orders, transform.ColOrderID)
		if err != nil {
			return 0, err
		}
		result.OrderKeys = len(keys)
		progress.Emitf(sink, "Staging %d order ids", len(keys))
		keyFilter, err = warehouse.StageKeys(ctx, conn, keys, p.opts.BatchSize, func(done, total int) {
			progress.Emitf(sink, "Inserted %d/%d IDs (%.1f%%)", done, total, float64(done)*100/float64(total))
		})
		return len(keys), err
	})
	if err != nil {
		return fail(StageStageKeys, err)
	}
	setStatus(model.RunStatusKeysStaged)

	// Item-level extraction.
	var items *frame.Table
	err = trackStage(StageItemQuery, func() (int, error) {
		progress.Emitf(sink, "Running item-level query")
		sql := warehouse.Render(p.opts.Queries.ItemLevel, map[string]string{
			warehouse.PlaceholderStartDate:   per.StartDate(),
			warehouse.PlaceholderEndDate:     per.EndDate(),
			warehouse.PlaceholderOrderIDList: keyFilter,
		})
		t, err := p.exec.Query(ctx, conn, sql)
		if err != nil {
			return 0, err
		}
		if err := warehouse.RequireColumns(t, "item-level", transform.ItemColumns...); err != nil {
			return t.Len(), err
		}
		items = t
		result.ItemRows = t.Len()
		progress.Emitf(sink, "Item-level query returned %d rows", t.Len())
		return t.Len(), nil
	})
	if err != nil {
		return fail(StageItemQuery, err)
	}
	setStatus(model.RunStatusItemQueryDone)

	// Merge and pivot.
	var merged *frame.Table
	err = trackStage(StageTransform, func() (int, error) {
		t, err := transform.Transform(orders, items)
		if err != nil {
			return 0, err
		}
		merged = t
		result.MergedRows = t.Len()
		progress.Emitf(sink, "Merged table has %d rows", t.Len())
		return t.Len(), nil
	})
	if err != nil {
		return fail(StageTransform, err)
	}
	setStatus(model.RunStatusTransformed)

	err = trackStage(StageClose, func() (int, error) {
		return 0, closeConn()
	})
	if err != nil {
		return fail(StageClose, err)
	}
	setStatus(model.RunStatusConnectionClosed)

	// Per-provider export.
	err = trackStage(StageExport, func() (int, error) {
		exp := partition.NewExporter(p.opts.Registry, p.opts.FileNameTemplate, sink)
		res, err := exp.Export(merged, per, p.opts.Folders)
		if err != nil {
			return 0, err
		}
		rows := 0
		for _, f := range res.Files {
			result.Files = append(result.Files, model.ExportFile{Provider: f.Provider, Path: f.Path, Rows: f.Rows})
			rows += f.Rows
		}
		for _, s := range res.Skipped {
			result.Skipped = append(result.Skipped, model.SkippedProvider{Provider: s.Provider, Reason: s.Reason})
		}
		return rows, nil
	})
	if err != nil {
		return fail(StageExport, err)
	}
	setStatus(model.RunStatusExported)

	if p.opts.Uploader != nil && len(result.Files) > 0 {
		err = trackStage(StageUpload, func() (int, error) {
			files, err := upload.All(ctx, p.opts.Uploader, p.opts.UploadPrefix, per.Month(), result.Files)
			if err != nil {
				return 0, err
			}
			result.Files = files
			progress.Emitf(sink, "Uploaded %d files", len(files))
			return len(files), nil
		})
		if err != nil {
			return fail(StageUpload, err)
		}
		setStatus(model.RunStatusUploaded)
	}

	// The last progress line precedes the terminal status so pollers see it.
	progress.Emitf(sink, "Export complete: %d files written", len(result.Files))

	if err := p.store.UpdateRunResult(ctx, run.ID, result); err != nil {
		log.Error("pipeline: failed to record result", zap.Error(err))
	}
	run.Status = model.RunStatusComplete
	run.Result = result

	log.Info("pipeline: complete",
		zap.Int("files", len(result.Files)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("merged_rows", result.MergedRows),
		zap.Duration("elapsed", time.Since(start)),
	)
	return result, nil
}
