// Package warehouse runs the extraction queries against the data warehouse
// and stages order keys for the dependent item-level query.
package warehouse

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/o2c-export/internal/db"
	"github.com/sells-group/o2c-export/internal/frame"
)

// ErrSchemaMismatch means a query result lacks columns later stages rely on.
var ErrSchemaMismatch = frame.ErrSchemaMismatch

// Executor runs SQL and returns normalised tables.
type Executor struct {
	log *zap.Logger
}

// NewExecutor creates an Executor logging under the warehouse component.
func NewExecutor() *Executor {
	return &Executor{log: zap.L().With(zap.String("component", "warehouse.executor"))}
}

// Query executes sql and returns the result with normalised column names and
// values coerced by frame.Normalize.
func (e *Executor) Query(ctx context.Context, q db.Querier, sql string) (*frame.Table, error) {
	start := time.Now()

	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: query")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	t := frame.New(cols...)

	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, eris.Wrap(err, "warehouse: read row")
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			nv, err := frame.Normalize(v)
			if err != nil {
				return nil, eris.Wrapf(err, "warehouse: column %s", cols[i])
			}
			row[i] = nv
		}
		if err := t.Append(row...); err != nil {
			return nil, eris.Wrap(err, "warehouse: append row")
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: iterate rows")
	}

	NormalizeColumns(t)

	e.log.Debug("query complete",
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return t, nil
}

// RequireColumns fails with ErrSchemaMismatch when t lacks any of cols.
func RequireColumns(t *frame.Table, what string, cols ...string) error {
	return t.Require(what+" result", cols...)
}

// Connect opens a single warehouse session. Server notices are routed to the
// debug log instead of operator output.
func Connect(ctx context.Context, dsn string, timeout time.Duration) (*pgx.Conn, error) {
	if dsn == "" {
		return nil, eris.New("warehouse: no database_url configured (set warehouse.database_url)")
	}

	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse dsn")
	}
	if timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	if _, ok := cfg.RuntimeParams["application_name"]; !ok {
		cfg.RuntimeParams["application_name"] = "o2c-export"
	}
	cfg.OnNotice = quietNotice

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: connect")
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, eris.Wrap(err, "warehouse: ping")
	}
	return conn, nil
}

func quietNotice(_ *pgconn.PgConn, n *pgconn.Notice) {
	zap.L().Debug("warehouse notice",
		zap.String("severity", n.Severity),
		zap.String("code", n.Code),
		zap.String("message", n.Message),
	)
}
