// Package transform reshapes the order-level and item-level query results
// into the merged, canonically ordered export table.
package transform

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/o2c-export/internal/frame"
)

// Transform pivots items by VAT band, left-joins them onto orders, blanks
// item metrics on secondary Braintree transactions, sorts by
// (gp_order_id, braintree_tx_index) and projects onto CanonicalColumns.
func Transform(orders, items *frame.Table) (*frame.Table, error) {
	if err := orders.Require("order-level result", ColOrderID, ColTxIndex); err != nil {
		return nil, err
	}
	pivot, err := PivotItems(items)
	if err != nil {
		return nil, err
	}

	merged := Merge(orders, pivot)
	BlankSecondaryTransactions(merged)
	SortRows(merged)

	out, err := merged.Select(CanonicalColumns())
	if err != nil {
		return nil, eris.Wrapf(frame.ErrSchemaMismatch, "transform: canonical columns: %s", err)
	}
	return out, nil
}

// Merge appends the pivot columns to a copy of orders. Orders without item
// rows get zeros.
func Merge(orders *frame.Table, pivot *Pivot) *frame.Table {
	pivotCols := PivotColumns()
	merged := frame.New(append(append([]string(nil), orders.Columns...), pivotCols...)...)
	keyIdx := orders.Index(ColOrderID)

	merged.Rows = make([][]any, len(orders.Rows))
	for i, src := range orders.Rows {
		row := make([]any, 0, len(src)+len(pivotCols))
		row = append(row, src...)

		key, _ := frame.Key(src[keyIdx])
		s, _ := pivot.Lookup(key)
		merged.Rows[i] = append(row, s.Row()...)
	}
	return merged
}

// IsSecondaryTransaction reports whether a tx index value is present and >= 2.
func IsSecondaryTransaction(v any) bool {
	n, ok := frame.AsInt64(v)
	return ok && n >= 2
}

// BlankSecondaryTransactions nulls every item column on rows whose
// braintree_tx_index is >= 2, so order-level item totals appear once per order.
func BlankSecondaryTransactions(t *frame.Table) {
	txIdx := t.Index(ColTxIndex)
	if txIdx < 0 {
		return
	}

	var itemIdx []int
	for _, c := range PivotColumns() {
		if i := t.Index(c); i >= 0 {
			itemIdx = append(itemIdx, i)
		}
	}

	for _, row := range t.Rows {
		if !IsSecondaryTransaction(row[txIdx]) {
			continue
		}
		for _, i := range itemIdx {
			row[i] = nil
		}
	}
}

// SortRows stable-sorts by gp_order_id then braintree_tx_index, ascending,
// with an absent tx index before any present one.
func SortRows(t *frame.Table) {
	keyIdx := t.Index(ColOrderID)
	txIdx := t.Index(ColTxIndex)
	if keyIdx < 0 {
		return
	}

	sort.SliceStable(t.Rows, func(a, b int) bool {
		ra, rb := t.Rows[a], t.Rows[b]
		if c := frame.Compare(ra[keyIdx], rb[keyIdx]); c != 0 {
			return c < 0
		}
		if txIdx < 0 {
			return false
		}
		return frame.Compare(ra[txIdx], rb[txIdx]) < 0
	})
}
