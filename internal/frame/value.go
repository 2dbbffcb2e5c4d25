package frame

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// Normalize coerces a driver value into one of the scalar types the pipeline
// works with: nil, string, int64, float64, bool, time.Time or decimal.Decimal.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, float64, bool, time.Time, decimal.Decimal:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return string(x), nil
	case *big.Rat:
		if x == nil {
			return nil, nil
		}
		return decimal.NewFromBigRat(x, 12), nil
	case pgtype.Numeric:
		return numericToDecimal(x)
	case [16]byte:
		return uuid.UUID(x).String(), nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return nil, eris.Wrapf(err, "frame: value of %T", v)
		}
		return Normalize(dv)
	case fmt.Stringer:
		return x.String(), nil
	default:
		return nil, eris.Errorf("frame: unsupported value type %T", v)
	}
}

func numericToDecimal(n pgtype.Numeric) (any, error) {
	if !n.Valid || n.NaN || n.Int == nil {
		return nil, nil
	}
	if n.InfinityModifier != pgtype.Finite {
		return nil, eris.New("frame: infinite numeric value")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// AsString renders v as text; "" for nil.
func AsString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return Format(v)
}

// AsInt64 returns v as an integer. ok is false for null or non-integral values.
func AsInt64(v any) (n int64, ok bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case float64:
		if x == float64(int64(x)) {
			return int64(x), true
		}
	case decimal.Decimal:
		if x.IsInteger() {
			return x.IntPart(), true
		}
	case string:
		s := strings.TrimSpace(x)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
	}
	return 0, false
}

// AsDecimal returns v as a decimal. Null and blank text are zero with ok=false.
func AsDecimal(v any) (d decimal.Decimal, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case decimal.Decimal:
		return x, true, nil
	case int64:
		return decimal.NewFromInt(x), true, nil
	case float64:
		return decimal.NewFromFloat(x), true, nil
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, false, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, eris.Wrapf(err, "frame: parse decimal %q", s)
		}
		return d, true, nil
	default:
		return decimal.Zero, false, eris.Errorf("frame: cannot use %T as a number", v)
	}
}

// Format renders a cell for CSV output. Null is the empty string.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.DateTime)
	default:
		return fmt.Sprint(x)
	}
}

// Key renders a join key. Numeric keys print without decimals so 100 and
// 100.0 join to the same row.
func Key(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(x)
		return s, s != ""
	default:
		if n, ok := AsInt64(x); ok {
			return strconv.FormatInt(n, 10), true
		}
		return Format(x), true
	}
}

// Compare orders two cells: nulls first, then numerically when both are
// numeric, otherwise by their text form.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	da, okA := numeric(a)
	db, okB := numeric(b)
	if okA && okB {
		return da.Cmp(db)
	}

	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}

	return strings.Compare(AsString(a), AsString(b))
}

func numeric(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(x))
		return d, err == nil
	}
	return decimal.Zero, false
}
