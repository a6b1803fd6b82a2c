// Package clock derives the calendar keys the statistics engine buckets by.
// All keys are computed in the target time zone (UTC+8): the original
// deployment counts a "day" as midnight-to-midnight Beijing time regardless
// of where the process runs.
package clock

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Clock supplies the current instant. Substitute a fixed implementation in
// tests to exercise rollover boundaries.
type Clock interface {
	Now() time.Time
}

var targetZone = loadTargetZone()

func loadTargetZone() *time.Location {
	// Asia/Shanghai has no DST, so the fixed offset fallback is equivalent.
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("UTC+8", 8*60*60)
}

// Zone returns the target time zone all keys are derived in.
func Zone() *time.Location {
	return targetZone
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns a Clock backed by the wall clock.
func System() Clock { return systemClock{} }

// Fixed returns a Clock pinned to t.
func Fixed(t time.Time) Clock { return fixedClock{t} }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// DayKey formats t as YYYY-MM-DD in the target zone.
func DayKey(t time.Time) string {
	return t.In(targetZone).Format("2006-01-02")
}

// HourKey formats t as YYYY-MM-DD-HH in the target zone.
func HourKey(t time.Time) string {
	return t.In(targetZone).Format("2006-01-02-15")
}

// WeekKey formats t as YYYY-Www using ISO-8601 week numbering. The ISO year
// can differ from the calendar year around New Year.
func WeekKey(t time.Time) string {
	year, week := t.In(targetZone).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthKey formats t as YYYY-MM in the target zone.
func MonthKey(t time.Time) string {
	return t.In(targetZone).Format("2006-01")
}

// NextDay returns the next midnight in the target zone strictly after t.
func NextDay(t time.Time) time.Time {
	lt := t.In(targetZone)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, targetZone)
}

// NextWeek returns the next Monday midnight in the target zone strictly
// after t.
func NextWeek(t time.Time) time.Time {
	lt := t.In(targetZone)
	days := int(time.Monday - lt.Weekday())
	if days <= 0 {
		days += 7
	}
	return time.Date(lt.Year(), lt.Month(), lt.Day()+days, 0, 0, 0, 0, targetZone)
}

// NextMonth returns the first midnight of the following month in the target
// zone.
func NextMonth(t time.Time) time.Time {
	lt := t.In(targetZone)
	return time.Date(lt.Year(), lt.Month()+1, 1, 0, 0, 0, 0, targetZone)
}

// Countdown is the structured remainder until a scope boundary.
type Countdown struct {
	At      time.Time `json:"at"`
	Seconds int64     `json:"seconds"`
	Human   string    `json:"human"`
}

// Until builds a Countdown from now to the given boundary.
func Until(now, boundary time.Time) Countdown {
	d := boundary.Sub(now)
	if d < 0 {
		d = 0
	}
	return Countdown{
		At:      boundary.In(targetZone),
		Seconds: int64(d / time.Second),
		Human:   formatCountdown(d),
	}
}

func formatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total / 60) % 24
	minutes := total % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%dd%dh%dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
