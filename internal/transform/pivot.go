package transform

import (
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/o2c-export/internal/frame"
)

// Summary holds one order's item metrics per band, indexed [metric][band]
// in Metrics and Bands order. The zero value is all zeros.
type Summary struct {
	values [3][4]decimal.Decimal
}

// Get returns the summed metric for a band.
func (s Summary) Get(metric string, band Band) decimal.Decimal {
	return s.values[metricIndex(metric)][band.index()]
}

// TotalProducts is the sum of the quantity columns.
func (s Summary) TotalProducts() decimal.Decimal {
	total := decimal.Zero
	for _, v := range s.values[0] {
		total = total.Add(v)
	}
	return total
}

// Row renders the summary in PivotColumns order.
func (s Summary) Row() []any {
	row := make([]any, 0, len(Metrics)*len(Bands)+1)
	for m := range Metrics {
		for b := range Bands {
			row = append(row, s.values[m][b])
		}
	}
	return append(row, s.TotalProducts())
}

func (s *Summary) add(metric int, band Band, v decimal.Decimal) {
	s.values[metric][band.index()] = s.values[metric][band.index()].Add(v)
}

func metricIndex(metric string) int {
	for i, m := range Metrics {
		if m == metric {
			return i
		}
	}
	panic("transform: unknown metric " + metric)
}

// Pivot is the item-level data reshaped to one Summary per order key.
type Pivot struct {
	byKey map[string]*Summary
	keys  []string
}

// Len is the number of distinct orders with item rows.
func (p *Pivot) Len() int { return len(p.keys) }

// Lookup returns the summary for an order key and whether items existed.
// Orders without items get the all-zero summary.
func (p *Pivot) Lookup(key string) (Summary, bool) {
	if s, ok := p.byKey[key]; ok {
		return *s, true
	}
	return Summary{}, false
}

// PivotItems sums each metric by (gp_order_id, vat_band), mapping each
// warehouse band label to its code without touching items. Item rows without
// an order key are ignored; null metrics count as zero.
func PivotItems(items *frame.Table) (*Pivot, error) {
	if err := items.Require("item-level result", ItemColumns...); err != nil {
		return nil, err
	}

	keyIdx := items.Index(ColOrderID)
	bandIdx := items.Index(ColVATBand)
	metricIdx := make([]int, len(Metrics))
	for i, m := range Metrics {
		metricIdx[i] = items.Index(m)
	}

	p := &Pivot{byKey: make(map[string]*Summary)}
	for i, row := range items.Rows {
		key, ok := frame.Key(row[keyIdx])
		if !ok {
			continue
		}
		band, err := ParseBand(frame.AsString(row[bandIdx]))
		if err != nil {
			return nil, eris.Wrapf(err, "transform: item row %d", i)
		}

		s, ok := p.byKey[key]
		if !ok {
			s = &Summary{}
			p.byKey[key] = s
			p.keys = append(p.keys, key)
		}
		for m, idx := range metricIdx {
			v, _, err := frame.AsDecimal(row[idx])
			if err != nil {
				return nil, eris.Wrapf(err, "transform: item row %d %s", i, Metrics[m])
			}
			s.add(m, band, v)
		}
	}
	return p, nil
}
