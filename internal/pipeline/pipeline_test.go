package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/o2c-export/internal/db"
	"github.com/sells-group/o2c-export/internal/frame"
	"github.com/sells-group/o2c-export/internal/model"
	"github.com/sells-group/o2c-export/internal/partition"
	"github.com/sells-group/o2c-export/internal/period"
	"github.com/sells-group/o2c-export/internal/progress"
	"github.com/sells-group/o2c-export/internal/store"
	"github.com/sells-group/o2c-export/internal/transform"
	"github.com/sells-group/o2c-export/internal/warehouse"
)

const (
	orderSQL = "SELECT * FROM orders WHERE created_at BETWEEN '{{start_date}}' AND '{{end_date}}'"
	itemSQL  = "SELECT * FROM items WHERE gp_order_id IN ({{order_id_list}})"
)

var june = period.Month(2025, time.June)

type failureCall struct {
	runID string
	stage string
	cause error
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []failureCall
}

func (n *recordingNotifier) RunFailed(_ context.Context, run *model.Run, stage string, cause error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, failureCall{runID: run.ID, stage: stage, cause: cause})
	return nil
}

type fakeUploader struct {
	objects []string
	err     error
}

func (u *fakeUploader) UploadFile(_ context.Context, _ string, object string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.objects = append(u.objects, object)
	return "gs://finance/" + object, nil
}

func (u *fakeUploader) Close() error { return nil }

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func orderRow(id any, vendorGroup, paymentSystem, vendor string, tx any) []any {
	vals := map[string]any{
		"gp_order_id":        id,
		"vendor_group":       vendorGroup,
		"payment_system":     paymentSystem,
		"order_vendor":       vendor,
		"braintree_tx_index": tx,
	}
	row := make([]any, len(transform.OrderColumns))
	for i, c := range transform.OrderColumns {
		row[i] = vals[c]
	}
	return row
}

func orderRows(rows ...[]any) *pgxmock.Rows {
	r := pgxmock.NewRows(transform.OrderColumns)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func itemRows(rows ...[]any) *pgxmock.Rows {
	r := pgxmock.NewRows(transform.ItemColumns)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func sampleOrders() *pgxmock.Rows {
	return orderRows(
		orderRow("100", "DTC", "Braintree", "Website", int64(1)),
		orderRow("100", "DTC", "Braintree", "Website", int64(2)),
		orderRow("200", "DTC", "PayPal", "Website", int64(1)),
		orderRow("300", "Marketplace", "", "Uber", nil),
	)
}

func sampleItems() *pgxmock.Rows {
	return itemRows(
		[]any{"100", "20% VAT band", int64(2), 12.0, 10.0},
		[]any{"200", "0% VAT band", int64(1), 5.0, 5.0},
		[]any{"300", "5% VAT band", int64(1), 3.15, 3.0},
	)
}

func expectExtraction(mock pgxmock.PgxConnIface, keys int64) {
	mock.ExpectQuery(`FROM orders WHERE created_at BETWEEN '2025-06-01' AND '2025-06-30'`).
		WillReturnRows(sampleOrders())
	mock.ExpectExec(`DROP TABLE IF EXISTS "temp_order_ids"`).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	mock.ExpectExec(`CREATE TEMP TABLE "temp_order_ids"`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{warehouse.StageTable}, []string{warehouse.StageColumn}).WillReturnResult(keys)
	mock.ExpectQuery(`FROM items WHERE gp_order_id IN \(SELECT gp_order_id FROM temp_order_ids\)`).
		WillReturnRows(sampleItems())
}

type fixture struct {
	mock     pgxmock.PgxConnIface
	store    store.Store
	notifier *recordingNotifier
	root     string
	opts     Options
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock, err := pgxmock.NewConn()
	require.NoError(t, err)

	root := t.TempDir()
	reg := partition.DefaultRegistry()
	return &fixture{
		mock:     mock,
		store:    newStore(t),
		notifier: &recordingNotifier{},
		root:     root,
		opts: Options{
			Queries:  Queries{OrderLevel: orderSQL, ItemLevel: itemSQL},
			Registry: reg,
			Folders:  partition.Folders(root, "Orders to Cash", reg),
		},
	}
}

func (f *fixture) pipeline() *Pipeline {
	dial := func(context.Context) (db.Conn, error) { return f.mock, nil }
	return New(dial, f.store, f.notifier, f.opts)
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close() //nolint:errcheck
	records, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return records
}

func TestPipeline_Run_FullFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	expectExtraction(f.mock, 3)
	f.mock.ExpectClose()

	sink := progress.NewBuffer()
	run, result, err := f.pipeline().Run(ctx, june, model.TriggerCLI, sink)
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 4, result.OrderRows)
	assert.Equal(t, 3, result.ItemRows)
	assert.Equal(t, 3, result.OrderKeys)
	assert.Equal(t, 4, result.MergedRows)
	assert.Empty(t, result.Error)

	require.Len(t, result.Files, 3)
	byProvider := map[string]model.ExportFile{}
	for _, file := range result.Files {
		byProvider[file.Provider] = file
	}
	assert.Equal(t, 2, byProvider["braintree"].Rows)
	assert.Equal(t, 1, byProvider["paypal"].Rows)
	assert.Equal(t, 1, byProvider["uber"].Rows)

	skipped := map[string]string{}
	for _, s := range result.Skipped {
		skipped[s.Provider] = s.Reason
	}
	assert.Equal(t, "no rows for 25.06", skipped["deliveroo"])
	assert.Contains(t, skipped, "justeat")
	assert.Contains(t, skipped, "amazon")

	wantPath := filepath.Join(f.opts.Folders["braintree"], "25.06.Braintree DWH data.csv")
	assert.Equal(t, wantPath, byProvider["braintree"].Path)
	records := readCSV(t, wantPath)
	require.Len(t, records, 3)
	assert.Equal(t, transform.CanonicalColumns(), records[0])

	// The secondary transaction of order 100 carries no item figures.
	qty20 := frame.New(records[0]...).Index(transform.PivotColumn(transform.MetricQuantity, transform.BandStandard))
	products := frame.New(records[0]...).Index(transform.ColProducts)
	assert.Equal(t, "2", records[1][qty20])
	assert.Equal(t, "2", records[1][products])
	assert.Equal(t, "", records[2][qty20])
	assert.Equal(t, "", records[2][products])

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, stored.Status)
	assert.Equal(t, "2025-06", stored.Period)
	require.NotNil(t, stored.Result)
	assert.Len(t, stored.Result.Files, 3)

	stages, err := f.store.ListStages(ctx, run.ID)
	require.NoError(t, err)
	var names []string
	for _, s := range stages {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StageConnect, StageOrderQuery, StageStageKeys, StageItemQuery,
		StageTransform, StageClose, StageExport,
	}, names)

	lines := sink.Lines(0)
	require.NotEmpty(t, lines)
	assert.Contains(t, strings.Join(lines, "\n"), "Inserted 3/3 IDs (100.0%)")
	assert.Contains(t, lines[len(lines)-1], "Export complete: 3 files written")
	assert.Empty(t, f.notifier.calls)
}

func TestPipeline_Run_ConnectFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dial := func(context.Context) (db.Conn, error) { return nil, fmt.Errorf("connection refused") }
	p := New(dial, f.store, f.notifier, f.opts)

	sink := progress.NewBuffer()
	run, result, err := p.Run(ctx, june, model.TriggerCLI, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Contains(t, result.Error, "connection refused")

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "connection refused")

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, StageConnect, f.notifier.calls[0].stage)
	assert.Equal(t, run.ID, f.notifier.calls[0].runID)

	lines := sink.Lines(0)
	assert.Contains(t, lines[len(lines)-1], "ERROR: connect failed")
}

func TestPipeline_Run_OrderSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM orders`).WillReturnRows(
		pgxmock.NewRows([]string{"gp_order_id", "braintree_tx_index"}).AddRow("100", int64(1)),
	)
	f.mock.ExpectClose()

	run, _, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, frame.ErrSchemaMismatch))
	assert.Contains(t, err.Error(), "payment_system")
	assert.NoError(t, f.mock.ExpectationsWereMet())

	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, StageOrderQuery, f.notifier.calls[0].stage)
}

func TestPipeline_Run_NoOrderKeys(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM orders`).WillReturnRows(
		orderRows(orderRow(nil, "DTC", "Braintree", "Website", int64(1))),
	)
	f.mock.ExpectClose()

	_, result, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, warehouse.ErrNoOrderKeys))
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 1, result.OrderRows)
	assert.Equal(t, 0, result.OrderKeys)
	assert.Empty(t, result.Files)
}

func TestPipeline_Run_ItemQueryFailureClosesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM orders`).WillReturnRows(sampleOrders())
	f.mock.ExpectExec(`DROP TABLE`).WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	f.mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	f.mock.ExpectCopyFrom(pgx.Identifier{warehouse.StageTable}, []string{warehouse.StageColumn}).WillReturnResult(3)
	f.mock.ExpectQuery(`FROM items`).WillReturnError(fmt.Errorf("statement timeout"))
	f.mock.ExpectClose()

	run, _, err := f.pipeline().Run(ctx, june, model.TriggerAPI, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement timeout")
	assert.NoError(t, f.mock.ExpectationsWereMet())

	stages, err := f.store.ListStages(ctx, run.ID)
	require.NoError(t, err)
	last := stages[len(stages)-1]
	assert.Equal(t, StageItemQuery, last.Name)
	assert.Equal(t, model.StageStatusFailed, last.Status)
}

func TestPipeline_Run_CloseErrorDoesNotMaskCause(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.mock.ExpectQuery(`FROM orders`).WillReturnError(fmt.Errorf("syntax error at or near \"FORM\""))
	f.mock.ExpectClose().WillReturnError(fmt.Errorf("connection already closed"))

	run, result, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.NotContains(t, err.Error(), "connection already closed")
	assert.Contains(t, result.Error, "syntax error")
	assert.NoError(t, f.mock.ExpectationsWereMet())

	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.Contains(t, stored.Error, "syntax error")
	assert.NotContains(t, stored.Error, "connection already closed")

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, StageOrderQuery, f.notifier.calls[0].stage)
}

// resultHookStore calls onResult after each recorded terminal result.
type resultHookStore struct {
	store.Store
	onResult func(runID string)
}

func (s *resultHookStore) UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error {
	err := s.Store.UpdateRunResult(ctx, runID, result)
	if s.onResult != nil {
		s.onResult(runID)
	}
	return err
}

func TestPipeline_Run_FinalLineBeforeTerminalStatus(t *testing.T) {
	f := newFixture(t)
	expectExtraction(f.mock, 3)
	f.mock.ExpectClose()

	sink := progress.NewBuffer()
	var atTerminal []string
	f.store = &resultHookStore{Store: f.store, onResult: func(string) { atTerminal = sink.Lines(0) }}

	_, _, err := f.pipeline().Run(context.Background(), june, model.TriggerAPI, sink)
	require.NoError(t, err)

	require.NotEmpty(t, atTerminal)
	assert.Contains(t, atTerminal[len(atTerminal)-1], "Export complete: 3 files written")
	assert.Equal(t, sink.Lines(0), atTerminal)
}

func TestPipeline_Run_ExportFailureAfterClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	// A regular file where the braintree folder should go.
	blocker := filepath.Join(f.root, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	f.opts.Folders["braintree"] = filepath.Join(blocker, "03 DWH")

	expectExtraction(f.mock, 3)
	f.mock.ExpectClose()

	run, result, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.Error(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, model.RunStatusFailed, run.Status)

	var closeStage, exportStage model.StageResult
	for _, s := range result.Stages {
		switch s.Name {
		case StageClose:
			closeStage = s
		case StageExport:
			exportStage = s
		}
	}
	assert.Equal(t, model.StageStatusComplete, closeStage.Status)
	assert.Equal(t, model.StageStatusFailed, exportStage.Status)

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, StageExport, f.notifier.calls[0].stage)
}

func TestPipeline_Run_Upload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	up := &fakeUploader{}
	f.opts.Uploader = up
	f.opts.UploadPrefix = "o2c"

	expectExtraction(f.mock, 3)
	f.mock.ExpectClose()

	run, result, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)

	require.Len(t, up.objects, 3)
	for _, file := range result.Files {
		assert.True(t, strings.HasPrefix(file.URI, "gs://finance/o2c/2025-06/"+file.Provider+"/"), file.URI)
	}
	assert.Equal(t, StageUpload, result.Stages[len(result.Stages)-1].Name)
}

func TestPipeline_Run_UploadFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.opts.Uploader = &fakeUploader{err: fmt.Errorf("permission denied")}

	expectExtraction(f.mock, 3)
	f.mock.ExpectClose()

	run, _, err := f.pipeline().Run(ctx, june, model.TriggerCLI, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, StageUpload, f.notifier.calls[0].stage)
}

func TestLoadQueries(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.sql"), []byte(orderSQL), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "item.sql"), []byte(itemSQL), 0o644))

	q, err := LoadQueries(dir, "order.sql", "item.sql")
	require.NoError(t, err)
	assert.Equal(t, orderSQL, q.OrderLevel)
	assert.Equal(t, itemSQL, q.ItemLevel)

	_, err = LoadQueries(dir, "order.sql", "missing.sql")
	assert.Error(t, err)
}
