package warehouse

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/o2c-export/internal/db"
	"github.com/sells-group/o2c-export/internal/frame"
)

const (
	// StageTable holds the order keys for the item-level query.
	StageTable = "temp_order_ids"
	// StageColumn is the single column of StageTable.
	StageColumn = "gp_order_id"
	// DefaultBatchSize bounds each COPY batch.
	DefaultBatchSize = 25_000
)

// ErrNoOrderKeys is returned when the order-level result yields no keys.
var ErrNoOrderKeys = eris.New("no valid gp_order_id values found in the order-level data")

// ProgressFunc receives cumulative staging progress after each batch.
type ProgressFunc func(done, total int)

// DistinctKeys returns the non-null values of col, deduplicated, in first-seen order.
func DistinctKeys(t *frame.Table, col string) ([]string, error) {
	if err := RequireColumns(t, "order-level", col); err != nil {
		return nil, err
	}
	idx := t.Index(col)
	seen := make(map[string]struct{}, t.Len())
	keys := make([]string, 0, t.Len())
	for _, row := range t.Rows {
		k, ok := frame.Key(row[idx])
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// StageKeys loads keys into a fresh session temp table in batches and returns
// the sub-select the item-level query filters on.
func StageKeys(ctx context.Context, q db.Querier, keys []string, batchSize int, progress ProgressFunc) (string, error) {
	if len(keys) == 0 {
		return "", ErrNoOrderKeys
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	if err := db.ReplaceTempTable(ctx, q, StageTable, []db.ColumnDef{{Name: StageColumn, Type: "TEXT"}}); err != nil {
		return "", eris.Wrap(err, "warehouse: stage keys")
	}

	total := len(keys)
	for start := 0; start < total; start += batchSize {
		end := min(start+batchSize, total)

		batch := make([][]any, 0, end-start)
		for _, k := range keys[start:end] {
			batch = append(batch, []any{k})
		}
		if _, err := db.CopyFrom(ctx, q, StageTable, []string{StageColumn}, batch); err != nil {
			return "", eris.Wrapf(err, "warehouse: stage keys batch %d-%d", start, end)
		}

		if progress != nil {
			progress(end, total)
		}
	}

	return fmt.Sprintf("SELECT %s FROM %s", StageColumn, StageTable), nil
}
