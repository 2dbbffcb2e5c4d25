package warehouse

import (
	"regexp"
	"strings"

	"github.com/sells-group/o2c-export/internal/frame"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeColumn lowercases a column name, collapses every run of
// non-alphanumeric characters into one underscore and trims underscores.
// "  Total Price (inc VAT) " → "total_price_inc_vat".
func NormalizeColumn(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// NormalizeColumns renames every column of t in place.
func NormalizeColumns(t *frame.Table) {
	t.RenameColumns(NormalizeColumn)
}
