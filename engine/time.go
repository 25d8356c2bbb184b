package engine

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - Calendar month (billing granularity of this system)
// =============================================================================

// Month is a calendar month. Day-of-month never matters for billing, so the
// engine works on Month values instead of raw dates.
type Month struct {
	Year  int
	Month time.Month
}

// Constructors
func NewMonth(year int, month time.Month) Month { return Month{Year: year, Month: month} }
func MonthOf(t time.Time) Month                 { return Month{Year: t.Year(), Month: t.Month()} }

// index counts months since year 0 so arithmetic never has to carry by hand.
func (m Month) index() int { return m.Year*12 + int(m.Month) - 1 }

func monthFromIndex(i int) Month {
	year := i / 12
	month := i % 12
	if month < 0 {
		month += 12
		year--
	}
	return Month{Year: year, Month: time.Month(month + 1)}
}

// Comparison
func (m Month) Before(other Month) bool { return m.index() < other.index() }
func (m Month) After(other Month) bool  { return m.index() > other.index() }
func (m Month) Equal(other Month) bool  { return m.index() == other.index() }

// Arithmetic
func (m Month) AddMonths(n int) Month { return monthFromIndex(m.index() + n) }

// Properties
func (m Month) IsZero() bool { return m.Year == 0 && m.Month == 0 }

// Time returns the first day of the month at midnight UTC.
func (m Month) Time() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }

// Format formats the first day of the month with a time layout.
func (m Month) Format(layout string) string { return m.Time().Format(layout) }

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// MonthsBetween returns the whole-month difference to-from, ignoring days.
// The result is negative when to is before from.
func MonthsBetween(from, to Month) int { return to.index() - from.index() }

// LaterMonth returns whichever of a and b comes last.
func LaterMonth(a, b Month) Month {
	if a.After(b) {
		return a
	}
	return b
}

// ParseDate parses a YYYY-MM-DD calendar date in UTC. Failures are reported
// as an InputError against field.
func ParseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, &InputError{Field: field, Reason: "required"}
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, &InputError{Field: field, Reason: fmt.Sprintf("unparseable date %q (use YYYY-MM-DD)", value)}
	}
	return t, nil
}

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"
