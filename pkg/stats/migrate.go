package stats

import (
	"fmt"

	log "github.com/charmbracelet/log"
)

// Merge reconciles two counter snapshots by taking the maximum of every
// overlapping value. The merge never decreases a counter, which makes it
// idempotent and order-independent: running a migration twice, or in either
// direction, yields the same result.
func Merge(a, b *CounterState) *CounterState {
	if a == nil && b == nil {
		return NewCounterState()
	}
	if a == nil {
		return b.clone()
	}
	if b == nil {
		return a.clone()
	}
	out := a.clone()
	if b.TotalCalls > out.TotalCalls {
		out.TotalCalls = b.TotalCalls
	}
	mergeCounts(out.DailyCalls, b.DailyCalls)
	mergeCounts(out.HourlyCalls, b.HourlyCalls)
	mergeCounts(out.WeeklyCalls, b.WeeklyCalls)
	mergeCounts(out.MonthlyCalls, b.MonthlyCalls)
	if b.LastUpdated.After(out.LastUpdated) {
		out.LastUpdated = b.LastUpdated
	}
	if out.LastResetDate < b.LastResetDate {
		out.LastResetDate = b.LastResetDate
	}
	if out.LastWeeklyReset < b.LastWeeklyReset {
		out.LastWeeklyReset = b.LastWeeklyReset
	}
	if out.LastMonthlyReset < b.LastMonthlyReset {
		out.LastMonthlyReset = b.LastMonthlyReset
	}
	return out
}

func mergeCounts(dst, src map[string]uint64) {
	for k, v := range src {
		if v > dst[k] {
			dst[k] = v
		}
	}
}

// Migrate merges the snapshots held by src and dst and writes the result to
// dst. The source is left untouched for manual cleanup and audit.
func Migrate(src, dst Backend) error {
	fromState, err := src.Load()
	if err != nil {
		return fmt.Errorf("load %s state: %w", src.Kind(), err)
	}
	toState, err := dst.Load()
	if err != nil {
		return fmt.Errorf("load %s state: %w", dst.Kind(), err)
	}
	if fromState == nil && toState == nil {
		log.Info("migration skipped, no state on either side")
		return nil
	}
	merged := Merge(fromState, toState)
	if err := dst.Save(merged); err != nil {
		return fmt.Errorf("save merged state to %s: %w", dst.Kind(), err)
	}
	log.Info("counter state migrated",
		"from", src.Kind(), "to", dst.Kind(), "total_calls", merged.TotalCalls)
	return nil
}
