// Package db provides shared pgx connection interfaces and bulk-load helpers.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx shared by *pgx.Conn, *pgxpool.Pool, pgx.Tx
// and the pgxmock fakes.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Conn is a single warehouse session. Temp tables live as long as the Conn,
// so every statement of one extraction run must go through the same Conn.
type Conn interface {
	Querier
	Close(ctx context.Context) error
}

// Pool is a pgxpool-compatible connection pool.
type Pool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}
