// Package period computes payment period identifiers, period bounds and the
// next due date of a recurring contract. Every function is pure and
// operates in the location of its time argument.
package period

import (
	"fmt"
	"time"

	"github.com/xraph/paysched"
)

// Cadence is how often a contract is paid.
type Cadence string

const (
	// Weekly contracts are paid every 7 days.
	Weekly Cadence = "WEEKLY"
	// Biweekly contracts are paid every 14 days.
	Biweekly Cadence = "BIWEEKLY"
	// Monthly contracts are paid once per calendar month on their payment day.
	Monthly Cadence = "MONTHLY"
)

// Valid reports whether c is a known cadence.
func (c Cadence) Valid() bool {
	switch c {
	case Weekly, Biweekly, Monthly:
		return true
	default:
		return false
	}
}

// ParseCadence validates s as a Cadence.
func ParseCadence(s string) (Cadence, error) {
	c := Cadence(s)
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", paysched.ErrInvalidCadence, s)
	}
	return c, nil
}

const layout = "2006-01"

// endOfDay is the last representable instant of a day at millisecond
// granularity.
const endOfDay = 23*time.Hour + 59*time.Minute + 59*time.Second + 999*time.Millisecond

// Identifier returns the period identifier (YYYY-MM) of t. The identifier is
// the calendar month for every cadence.
func Identifier(t time.Time) string {
	return t.Format(layout)
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// EndOfDay returns 23:59:59.999 of t's day in t's location.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(endOfDay)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	// Day 0 of the following month normalizes to the last day of month.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Bounds returns the inclusive start and end of the period containing t.
//
// MONTHLY spans the calendar month of t. WEEKLY and BIWEEKLY span the 7 or
// 14 days preceding t, ending at the end of t's day. An unknown cadence
// yields the bounds of t's day.
func Bounds(c Cadence, t time.Time) (start, end time.Time) {
	switch c {
	case Monthly:
		y, m, _ := t.Date()
		start = time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
		last := time.Date(y, m, DaysIn(y, m), 0, 0, 0, 0, t.Location())
		return start, last.Add(endOfDay)
	case Weekly:
		return StartOfDay(t.AddDate(0, 0, -7)), EndOfDay(t)
	case Biweekly:
		return StartOfDay(t.AddDate(0, 0, -14)), EndOfDay(t)
	default:
		return StartOfDay(t), EndOfDay(t)
	}
}

// NextDueDate returns the due date following current for cadence c.
//
// WEEKLY and BIWEEKLY add 7 and 14 days. MONTHLY moves to the next calendar
// month on paymentDay, clamped to the length of that month; a paymentDay
// outside 1-31 falls back to current's day of month. The time of day is
// preserved. An unknown cadence returns current unchanged.
func NextDueDate(current time.Time, c Cadence, paymentDay int) time.Time {
	switch c {
	case Weekly:
		return current.AddDate(0, 0, 7)
	case Biweekly:
		return current.AddDate(0, 0, 14)
	case Monthly:
		if paymentDay < 1 || paymentDay > 31 {
			paymentDay = current.Day()
		}
		y, m, _ := current.Date()
		// Step from the first of the month so AddDate never overflows.
		next := time.Date(y, m, 1, 0, 0, 0, 0, current.Location()).AddDate(0, 1, 0)
		ny, nm, _ := next.Date()
		day := min(paymentDay, DaysIn(ny, nm))
		h, mi, s := current.Clock()
		return time.Date(ny, nm, day, h, mi, s, current.Nanosecond(), current.Location())
	default:
		return current
	}
}

// MonthRange parses a period identifier and returns the first instant of
// that month and the first instant of the following month, in loc.
func MonthRange(periodRef string, loc *time.Location) (start, end time.Time, err error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(layout, periodRef, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", paysched.ErrInvalidPeriod, periodRef)
	}
	return t, t.AddDate(0, 1, 0), nil
}

// Day returns the half-open window [start of t's day, start of the next day).
func Day(t time.Time) (from, to time.Time) {
	from = StartOfDay(t)
	return from, from.AddDate(0, 0, 1)
}
