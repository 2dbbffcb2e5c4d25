// Package period resolves the calendar month an extraction run reports on.
package period

import (
	"regexp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultCutoffDay is the last day of a month on which the default period
// is still the previous month.
const DefaultCutoffDay = 9

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

// ErrInvalidMonth is returned for overrides that are not YYYY-MM.
var ErrInvalidMonth = eris.New("invalid month: use YYYY-MM (e.g. 2025-11)")

// Period is a reporting month, [Start, End] inclusive at day granularity.
type Period struct {
	Start time.Time
	End   time.Time
}

// Month returns the period covering the given calendar month.
func Month(year int, month time.Month) Period {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, -1)
	return Period{Start: start, End: end}
}

// Default picks the previous month while today's day-of-month is within
// cutoffDay, otherwise the current month. cutoffDay <= 0 uses DefaultCutoffDay.
func Default(today time.Time, cutoffDay int) Period {
	if cutoffDay <= 0 {
		cutoffDay = DefaultCutoffDay
	}
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	if today.Day() <= cutoffDay {
		first = first.AddDate(0, -1, 0)
	}
	return Month(first.Year(), first.Month())
}

// Parse validates an operator override of the form YYYY-MM.
func Parse(s string) (Period, error) {
	if !monthPattern.MatchString(s) {
		return Period{}, eris.Wrapf(ErrInvalidMonth, "%q", s)
	}
	year, _ := strconv.Atoi(s[:4])
	month, _ := strconv.Atoi(s[5:])
	if month < 1 || month > 12 {
		return Period{}, eris.Wrapf(ErrInvalidMonth, "%q: month out of range", s)
	}
	return Month(year, time.Month(month)), nil
}

// Resolve returns the override when set, otherwise the default for today.
func Resolve(override string, today time.Time, cutoffDay int) (Period, error) {
	if override == "" {
		return Default(today, cutoffDay), nil
	}
	return Parse(override)
}

// StartDate is the first day as YYYY-MM-DD.
func (p Period) StartDate() string { return p.Start.Format(time.DateOnly) }

// EndDate is the last day as YYYY-MM-DD.
func (p Period) EndDate() string { return p.End.Format(time.DateOnly) }

// Label is the two-digit year and month used in export file names ("25.11").
func (p Period) Label() string { return p.Start.Format("06.01") }

// String renders the period as "2025-11-01 → 2025-11-30".
func (p Period) String() string { return p.StartDate() + " → " + p.EndDate() }

// Month is the period in the YYYY-MM form Parse accepts.
func (p Period) Month() string { return p.Start.Format("2006-01") }
