package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom bulk-inserts rows into a table using the COPY protocol.
// table may be schema-qualified ("analytics.orders").
func CopyFrom(ctx context.Context, q Querier, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := q.CopyFrom(ctx, identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", table)
	}
	return n, nil
}

// ReplaceTempTable drops and recreates a session-scoped temp table.
// columns maps to "name TYPE" definitions in the given order.
func ReplaceTempTable(ctx context.Context, q Querier, table string, columns []ColumnDef) error {
	if len(columns) == 0 {
		return eris.Errorf("db: temp table %s: no columns specified", table)
	}

	if _, err := q.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", sanitizeTable(table))); err != nil {
		return eris.Wrapf(err, "db: drop temp table %s", table)
	}

	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", sanitizeTable(table), strings.Join(defs, ", "))
	if _, err := q.Exec(ctx, createSQL); err != nil {
		return eris.Wrapf(err, "db: create temp table %s", table)
	}
	return nil
}

// ColumnDef is a column name and its SQL type.
type ColumnDef struct {
	Name string
	Type string
}

// identifier splits a possibly schema-qualified table name.
func identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}

// sanitizeTable handles schema-qualified table names like "analytics.orders".
func sanitizeTable(table string) string {
	return identifier(table).Sanitize()
}
