package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/tunegate/tunegate/pkg/backup"
	"github.com/tunegate/tunegate/pkg/clock"
)

// A safety-net backup fires every periodicBackupEvery-th recorded call,
// independent of rollover-triggered backups.
const periodicBackupEvery = 1000

// Scope is a counter granularity that can be reset.
type Scope string

const (
	ScopeToday Scope = "today"
	ScopeWeek  Scope = "week"
	ScopeMonth Scope = "month"
	ScopeAll   Scope = "all"
)

// ParseScope validates a scope name from a request path.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeToday, ScopeWeek, ScopeMonth, ScopeAll:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// Snapshot is the read view served to query callers: current counters plus
// derived totals and boundary countdowns, recomputed on every call.
type Snapshot struct {
	TotalCalls   uint64            `json:"total_calls"`
	TodayCalls   uint64            `json:"today_calls"`
	HourCalls    uint64            `json:"hour_calls"`
	WeekCalls    uint64            `json:"week_calls"`
	MonthCalls   uint64            `json:"month_calls"`
	DailyCalls   map[string]uint64 `json:"daily_calls"`
	HourlyCalls  map[string]uint64 `json:"hourly_calls"`
	WeeklyCalls  map[string]uint64 `json:"weekly_calls"`
	MonthlyCalls map[string]uint64 `json:"monthly_calls"`

	LastUpdated      time.Time `json:"last_updated"`
	LastResetDate    string    `json:"last_reset_date"`
	LastWeeklyReset  string    `json:"last_weekly_reset"`
	LastMonthlyReset string    `json:"last_monthly_reset"`

	NextDayReset   clock.Countdown `json:"next_day_reset"`
	NextWeekReset  clock.Countdown `json:"next_week_reset"`
	NextMonthReset clock.Countdown `json:"next_month_reset"`

	Storage string `json:"storage"`
}

// Engine owns the in-memory counter state. Every mutation runs under the
// mutex as check-rollover, mutate, persist; persistence is write-through
// with no buffering.
type Engine struct {
	mu      sync.Mutex
	state   *CounterState
	backend Backend
	backups *backup.Manager
	clk     clock.Clock

	// overridable in tests
	backupEvery uint64
}

// NewEngine hydrates the engine from the backend. Load failures are not
// fatal: the engine starts from a fresh zeroed state and persists it
// immediately, overwriting whatever could not be read.
func NewEngine(backend Backend, backups *backup.Manager, clk clock.Clock) *Engine {
	e := &Engine{
		backend:     backend,
		backups:     backups,
		clk:         clk,
		backupEvery: periodicBackupEvery,
	}
	state, err := backend.Load()
	if err != nil {
		log.Error("load counter state failed, starting fresh", "storage", backend.Kind(), "error", err)
		state = nil
	}
	now := e.clk.Now()
	if state == nil {
		state = NewCounterState()
		state.LastResetDate = clock.DayKey(now)
		state.LastWeeklyReset = clock.WeekKey(now)
		state.LastMonthlyReset = clock.MonthKey(now)
		state.LastUpdated = now.UTC()
		e.state = state
		e.persistLocked()
		return e
	}
	state.normalize()
	e.state = state
	return e
}

// Storage returns the active backend kind.
func (e *Engine) Storage() string { return e.backend.Kind() }

// RecordCall applies any pending rollovers, increments every scope bucket,
// persists, and returns the updated snapshot. A call landing exactly on a
// boundary is attributed to the new period.
func (e *Engine) RecordCall() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	e.checkRolloversLocked(now)

	e.state.TotalCalls++
	e.state.DailyCalls[clock.DayKey(now)]++
	e.state.HourlyCalls[clock.HourKey(now)]++
	e.state.WeeklyCalls[clock.WeekKey(now)]++
	e.state.MonthlyCalls[clock.MonthKey(now)]++
	e.state.LastUpdated = now.UTC()
	e.persistLocked()

	if e.backupEvery > 0 && e.state.TotalCalls%e.backupEvery == 0 {
		e.createBackupLocked("periodic")
	}
	return e.snapshotLocked(now)
}

// LogEvent forwards a call event to the backend's event log. Best-effort:
// failures are logged and swallowed so stats tracking never breaks the
// proxied request.
func (e *Engine) LogEvent(ctx context.Context, evt CallEvent) {
	if err := e.backend.LogEvent(ctx, evt); err != nil {
		log.Warn("event log append failed", "endpoint", evt.Endpoint, "error", err)
	}
}

// CheckRollovers compares the current calendar keys against the stored
// watermarks and applies any pending resets. Idempotent within a period:
// the second call inside the same day/week/month is a no-op. Returns whether
// any rollover occurred.
func (e *Engine) CheckRollovers() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clk.Now()
	if !e.checkRolloversLocked(now) {
		return false
	}
	e.state.LastUpdated = now.UTC()
	e.persistLocked()
	return true
}

func (e *Engine) checkRolloversLocked(now time.Time) bool {
	changed := false

	if day := clock.DayKey(now); e.state.LastResetDate != day {
		// The daily rollover is consequential enough to warrant a backup;
		// weekly and monthly are not.
		e.createBackupLocked("day rollover")
		e.state.DailyCalls[day] = 0
		e.state.LastResetDate = day
		changed = true
	}
	if week := clock.WeekKey(now); e.state.LastWeeklyReset != week {
		e.state.WeeklyCalls[week] = 0
		e.state.LastWeeklyReset = week
		changed = true
	}
	if month := clock.MonthKey(now); e.state.LastMonthlyReset != month {
		e.state.MonthlyCalls[month] = 0
		e.state.LastMonthlyReset = month
		changed = true
	}
	// Any rollover enforces retention across every granularity. Pruning only
	// the scope that rolled over would let a year-old weekly entry survive a
	// plain day rollover.
	if changed {
		pruneOlderThan(e.state.DailyCalls, clock.DayKey(now.AddDate(0, 0, -dailyRetentionDays)))
		pruneOlderThan(e.state.HourlyCalls, clock.HourKey(now.AddDate(0, 0, -hourlyRetentionDays)))
		pruneOlderThan(e.state.WeeklyCalls, clock.WeekKey(now.AddDate(0, 0, -weeklyRetentionDays)))
		pruneOlderThan(e.state.MonthlyCalls, clock.MonthKey(now.AddDate(0, 0, -monthlyRetentionDays)))
	}
	return changed
}

// pruneOlderThan removes keys before the cutoff key. All calendar key
// formats are fixed width, so lexical order matches chronological order.
func pruneOlderThan(m map[string]uint64, cutoff string) {
	for k := range m {
		if k < cutoff {
			delete(m, k)
		}
	}
}

// Snapshot returns the current read view without mutating state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(e.clk.Now())
}

func (e *Engine) snapshotLocked(now time.Time) Snapshot {
	st := e.state.clone()
	return Snapshot{
		TotalCalls:   st.TotalCalls,
		TodayCalls:   st.DailyCalls[clock.DayKey(now)],
		HourCalls:    st.HourlyCalls[clock.HourKey(now)],
		WeekCalls:    st.WeeklyCalls[clock.WeekKey(now)],
		MonthCalls:   st.MonthlyCalls[clock.MonthKey(now)],
		DailyCalls:   st.DailyCalls,
		HourlyCalls:  st.HourlyCalls,
		WeeklyCalls:  st.WeeklyCalls,
		MonthlyCalls: st.MonthlyCalls,

		LastUpdated:      st.LastUpdated,
		LastResetDate:    st.LastResetDate,
		LastWeeklyReset:  st.LastWeeklyReset,
		LastMonthlyReset: st.LastMonthlyReset,

		NextDayReset:   clock.Until(now, clock.NextDay(now)),
		NextWeekReset:  clock.Until(now, clock.NextWeek(now)),
		NextMonthReset: clock.Until(now, clock.NextMonth(now)),

		Storage: e.backend.Kind(),
	}
}

// Reset zeroes the requested scope. Resetting today or everything is
// preceded by a backup to protect against operator mistakes; totals survive
// everything except reset-all.
func (e *Engine) Reset(scope Scope) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clk.Now()
	switch scope {
	case ScopeToday:
		e.createBackupLocked("reset today")
		day := clock.DayKey(now)
		e.state.DailyCalls[day] = 0
		e.state.LastResetDate = day
	case ScopeWeek:
		week := clock.WeekKey(now)
		e.state.WeeklyCalls[week] = 0
		e.state.LastWeeklyReset = week
	case ScopeMonth:
		month := clock.MonthKey(now)
		e.state.MonthlyCalls[month] = 0
		e.state.LastMonthlyReset = month
	case ScopeAll:
		e.createBackupLocked("reset all")
		fresh := NewCounterState()
		fresh.LastResetDate = clock.DayKey(now)
		fresh.LastWeeklyReset = clock.WeekKey(now)
		fresh.LastMonthlyReset = clock.MonthKey(now)
		e.state = fresh
	default:
		return Snapshot{}, fmt.Errorf("unknown scope %q", scope)
	}
	e.state.LastUpdated = now.UTC()
	e.persistLocked()
	log.Info("counters reset", "scope", scope, "storage", e.backend.Kind())
	return e.snapshotLocked(now), nil
}

// CreateBackup snapshots the current state on operator request.
func (e *Engine) CreateBackup() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backups == nil {
		return "", fmt.Errorf("backups are disabled")
	}
	return e.backups.Create(e.state)
}

// persistLocked writes through to the backend. Failures are logged and
// swallowed; the in-memory state stays authoritative until the next
// successful persist.
func (e *Engine) persistLocked() {
	if err := e.backend.Save(e.state); err != nil {
		log.Warn("persist counter state failed", "storage", e.backend.Kind(), "error", err)
	}
}

func (e *Engine) createBackupLocked(reason string) {
	if e.backups == nil {
		return
	}
	name, err := e.backups.Create(e.state)
	if err != nil {
		log.Warn("backup failed", "reason", reason, "error", err)
		return
	}
	log.Info("backup created", "reason", reason, "name", name)
}
