package inventory

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - Reporting window
// =============================================================================

// Period is an inclusive reporting window [Start, End].
//
// Examples:
//   - Calendar month October 2025: Oct 1 00:00 - Oct 31 23:59:59.999999999
//   - Custom audit window: any Start <= End
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthPeriod returns the calendar month in loc. A nil loc means UTC.
func MonthPeriod(year int, month time.Month, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Period{Start: start, End: start.AddDate(0, 1, 0).Add(-time.Nanosecond)}
}

// ParseMonth parses "2006-01" into a calendar month period.
func ParseMonth(s string, loc *time.Location) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: month %q must be YYYY-MM", ErrInvalidPeriod, s)
	}
	return MonthPeriod(t.Year(), t.Month(), loc), nil
}

// DayRange returns the period covering whole days from..to in loc.
func DayRange(from, to time.Time, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1).Add(-time.Nanosecond)
	return Period{Start: start, End: end}
}

// Validate rejects periods that end before they start.
func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() || p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains returns true if t is within [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// PreviousMonth returns the calendar month before the one containing Start.
func (p Period) PreviousMonth() Period {
	prev := p.Start.AddDate(0, -1, 0)
	return MonthPeriod(prev.Year(), prev.Month(), p.Start.Location())
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}
