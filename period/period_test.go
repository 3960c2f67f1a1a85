package period_test

import (
	"errors"
	"testing"
	"time"

	"github.com/xraph/paysched"
	"github.com/xraph/paysched/period"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{date(2024, time.January, 1), "2024-01"},
		{date(2024, time.December, 31), "2024-12"},
		{time.Date(2025, time.March, 15, 23, 59, 0, 0, time.UTC), "2025-03"},
	}
	for _, tt := range tests {
		if got := period.Identifier(tt.in); got != tt.want {
			t.Errorf("Identifier(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBounds(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		name      string
		cadence   period.Cadence
		at        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "monthly leap february",
			cadence:   period.Monthly,
			at:        time.Date(2024, time.February, 10, 14, 0, 0, 0, time.UTC),
			wantStart: date(2024, time.February, 1),
			wantEnd:   date(2024, time.February, 29).Add(24*time.Hour - ms),
		},
		{
			name:      "monthly thirty day month",
			cadence:   period.Monthly,
			at:        date(2024, time.April, 30),
			wantStart: date(2024, time.April, 1),
			wantEnd:   date(2024, time.April, 30).Add(24*time.Hour - ms),
		},
		{
			name:      "weekly",
			cadence:   period.Weekly,
			at:        time.Date(2024, time.March, 10, 6, 0, 0, 0, time.UTC),
			wantStart: date(2024, time.March, 3),
			wantEnd:   date(2024, time.March, 10).Add(24*time.Hour - ms),
		},
		{
			name:      "biweekly across month",
			cadence:   period.Biweekly,
			at:        date(2024, time.March, 5),
			wantStart: date(2024, time.February, 20),
			wantEnd:   date(2024, time.March, 5).Add(24*time.Hour - ms),
		},
		{
			name:      "unknown cadence is the day",
			cadence:   period.Cadence("YEARLY"),
			at:        time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC),
			wantStart: date(2024, time.March, 5),
			wantEnd:   date(2024, time.March, 5).Add(24*time.Hour - ms),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := period.Bounds(tt.cadence, tt.at)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name       string
		current    time.Time
		cadence    period.Cadence
		paymentDay int
		want       time.Time
	}{
		{"weekly", date(2024, time.March, 10), period.Weekly, 0, date(2024, time.March, 17)},
		{"biweekly", date(2024, time.March, 10), period.Biweekly, 0, date(2024, time.March, 24)},
		{"monthly same day", date(2024, time.March, 10), period.Monthly, 10, date(2024, time.April, 10)},
		{"monthly clamp leap", date(2024, time.January, 31), period.Monthly, 31, date(2024, time.February, 29)},
		{"monthly clamp common", date(2023, time.January, 31), period.Monthly, 31, date(2023, time.February, 28)},
		{"monthly clamp thirty", date(2024, time.March, 31), period.Monthly, 31, date(2024, time.April, 30)},
		{"monthly restores payment day", date(2024, time.February, 29), period.Monthly, 31, date(2024, time.March, 31)},
		{"monthly year rollover", date(2024, time.December, 15), period.Monthly, 15, date(2025, time.January, 15)},
		{"monthly zero payment day", date(2024, time.May, 20), period.Monthly, 0, date(2024, time.June, 20)},
		{"unknown cadence", date(2024, time.May, 20), period.Cadence("?"), 1, date(2024, time.May, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := period.NextDueDate(tt.current, tt.cadence, tt.paymentDay)
			if !got.Equal(tt.want) {
				t.Errorf("NextDueDate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNextDueDatePreservesClock(t *testing.T) {
	cur := time.Date(2024, time.January, 31, 6, 30, 0, 0, time.UTC)
	got := period.NextDueDate(cur, period.Monthly, 31)
	want := time.Date(2024, time.February, 29, 6, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NextDueDate = %v, want %v", got, want)
	}
}

func TestNextDueDateMonotonic(t *testing.T) {
	cadences := []period.Cadence{period.Weekly, period.Biweekly, period.Monthly}
	for _, c := range cadences {
		cur := date(2024, time.January, 31)
		for i := 0; i < 36; i++ {
			next := period.NextDueDate(cur, c, 31)
			if !next.After(cur) {
				t.Fatalf("%s: NextDueDate(%v) = %v is not after input", c, cur, next)
			}
			cur = next
		}
	}
}

func TestDaysIn(t *testing.T) {
	tests := []struct {
		year  int
		month time.Month
		want  int
	}{
		{2024, time.February, 29},
		{2023, time.February, 28},
		{1900, time.February, 28},
		{2000, time.February, 29},
		{2024, time.April, 30},
		{2024, time.December, 31},
	}
	for _, tt := range tests {
		if got := period.DaysIn(tt.year, tt.month); got != tt.want {
			t.Errorf("DaysIn(%d, %s) = %d, want %d", tt.year, tt.month, got, tt.want)
		}
	}
}

func TestMonthRange(t *testing.T) {
	start, end, err := period.MonthRange("2024-12", time.UTC)
	if err != nil {
		t.Fatalf("MonthRange: %v", err)
	}
	if !start.Equal(date(2024, time.December, 1)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(date(2025, time.January, 1)) {
		t.Errorf("end = %v", end)
	}

	if _, _, err := period.MonthRange("2024-13", time.UTC); !errors.Is(err, paysched.ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestParseCadence(t *testing.T) {
	c, err := period.ParseCadence("MONTHLY")
	if err != nil || c != period.Monthly {
		t.Fatalf("ParseCadence(MONTHLY) = %q, %v", c, err)
	}
	if _, err := period.ParseCadence("monthly"); !errors.Is(err, paysched.ErrInvalidCadence) {
		t.Errorf("expected ErrInvalidCadence, got %v", err)
	}
}

func TestDay(t *testing.T) {
	from, to := period.Day(time.Date(2024, time.March, 10, 17, 4, 0, 0, time.UTC))
	if !from.Equal(date(2024, time.March, 10)) || !to.Equal(date(2024, time.March, 11)) {
		t.Errorf("Day = [%v, %v)", from, to)
	}
}
