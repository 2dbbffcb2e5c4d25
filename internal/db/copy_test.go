package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "test_table", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background()) //nolint:errcheck

	mock.ExpectCopyFrom(pgx.Identifier{"test_table"}, []string{"a", "b"}).WillReturnResult(3)

	rows := [][]any{{1, "x"}, {2, "y"}, {3, "z"}}
	n, err := CopyFrom(context.Background(), mock, "test_table", []string{"a", "b"}, rows)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"analytics", "orders"}, []string{"a"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "analytics.orders", []string{"a"}, [][]any{{1}, {2}})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"test_table"}, []string{"a", "b"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "test_table", []string{"a", "b"}, [][]any{{1, "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO test_table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTempTable(t *testing.T) {
	mock, err := pgxmock.NewConn(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer mock.Close(context.Background()) //nolint:errcheck

	mock.ExpectExec(`DROP TABLE IF EXISTS "temp_order_ids"`).
		WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectExec(`CREATE TEMP TABLE "temp_order_ids" ("gp_order_id" TEXT)`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	err = ReplaceTempTable(context.Background(), mock, "temp_order_ids", []ColumnDef{{Name: "gp_order_id", Type: "TEXT"}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceTempTable_NoColumns(t *testing.T) {
	err := ReplaceTempTable(context.Background(), nil, "temp_order_ids", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestReplaceTempTable_CreateFails(t *testing.T) {
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)
	defer mock.Close(context.Background()) //nolint:errcheck

	mock.ExpectExec(`DROP TABLE IF EXISTS`).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(fmt.Errorf("permission denied"))

	err = ReplaceTempTable(context.Background(), mock, "temp_order_ids", []ColumnDef{{Name: "gp_order_id", Type: "TEXT"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp table temp_order_ids")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"orders", `"orders"`},
		{"analytics.orders", `"analytics"."orders"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeTable(tt.input))
		})
	}
}
