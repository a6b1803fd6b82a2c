// Package stats owns the call-counting state: time-bucketed counters keyed
// by calendar day, hour, ISO week, and month in the target time zone, with
// rollover detection, retention pruning, and pluggable persistence.
package stats

import (
	"time"
)

// Retention windows applied when a scope rolls over.
const (
	dailyRetentionDays   = 90
	hourlyRetentionDays  = 7
	weeklyRetentionDays  = 365
	monthlyRetentionDays = 2 * 365
)

// CounterState is the persisted counter document. total_calls only ever
// decreases on an explicit reset-all; the per-scope maps hold one entry per
// calendar key and are pruned on rollover.
type CounterState struct {
	TotalCalls       uint64            `json:"total_calls"`
	DailyCalls       map[string]uint64 `json:"daily_calls"`
	HourlyCalls      map[string]uint64 `json:"hourly_calls"`
	WeeklyCalls      map[string]uint64 `json:"weekly_calls"`
	MonthlyCalls     map[string]uint64 `json:"monthly_calls"`
	LastUpdated      time.Time         `json:"last_updated"`
	LastResetDate    string            `json:"last_reset_date"`
	LastWeeklyReset  string            `json:"last_weekly_reset"`
	LastMonthlyReset string            `json:"last_monthly_reset"`
}

// NewCounterState returns an empty state with all maps allocated.
func NewCounterState() *CounterState {
	return &CounterState{
		DailyCalls:   map[string]uint64{},
		HourlyCalls:  map[string]uint64{},
		WeeklyCalls:  map[string]uint64{},
		MonthlyCalls: map[string]uint64{},
	}
}

// normalize allocates any maps a loaded document left nil so callers can
// index without checking.
func (s *CounterState) normalize() {
	if s.DailyCalls == nil {
		s.DailyCalls = map[string]uint64{}
	}
	if s.HourlyCalls == nil {
		s.HourlyCalls = map[string]uint64{}
	}
	if s.WeeklyCalls == nil {
		s.WeeklyCalls = map[string]uint64{}
	}
	if s.MonthlyCalls == nil {
		s.MonthlyCalls = map[string]uint64{}
	}
}

func (s *CounterState) clone() *CounterState {
	cp := *s
	cp.DailyCalls = cloneCounts(s.DailyCalls)
	cp.HourlyCalls = cloneCounts(s.HourlyCalls)
	cp.WeeklyCalls = cloneCounts(s.WeeklyCalls)
	cp.MonthlyCalls = cloneCounts(s.MonthlyCalls)
	return &cp
}

func cloneCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
