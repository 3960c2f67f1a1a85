package paysched

import "time"

// Stats is a point-in-time snapshot of scheduler run counters.
type Stats struct {
	Checked      int        `json:"checked"`
	Processed    int        `json:"processed"`
	Success      int        `json:"success"`
	Failed       int        `json:"failed"`
	Retrying     int        `json:"retrying"`
	Skipped      int        `json:"skipped"`
	LastRun      *time.Time `json:"last_run,omitempty"`
	LastDailyRun *time.Time `json:"last_daily_run,omitempty"`
}
