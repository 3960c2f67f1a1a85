package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/paysched/backoff"
)

func TestConstant_ReturnsFixedDelay(t *testing.T) {
	c := backoff.NewConstant(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestLinear(t *testing.T) {
	l := backoff.NewLinear(time.Hour, 5*time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Hour},
		{1, 1 * time.Hour},
		{2, 2 * time.Hour},
		{5, 5 * time.Hour},
		{9, 5 * time.Hour},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential(t *testing.T) {
	e := backoff.NewExponential(time.Minute, time.Hour)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{6, 32 * time.Minute},
		{7, time.Hour},
		{200, time.Hour},
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestFunc(t *testing.T) {
	s := backoff.Func(func(n int) time.Duration { return time.Duration(n) * time.Second })
	if got := s.Delay(3); got != 3*time.Second {
		t.Errorf("Delay(3) = %v, want 3s", got)
	}
}

func TestDefaults(t *testing.T) {
	if got := backoff.InsufficientFunds().Delay(1); got != 24*time.Hour {
		t.Errorf("InsufficientFunds = %v, want 24h", got)
	}
	if got := backoff.Technical().Delay(2); got != time.Hour {
		t.Errorf("Technical = %v, want 1h", got)
	}
}
