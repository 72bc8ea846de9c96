// Package stats maintains per-user running totals and the day streak.
package stats

import (
	"sort"
	"time"

	"github.com/trailblazerplus/server/pkg/types"
)

// StartOfDay returns midnight of t's calendar day in loc.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// StartOfWeek returns midnight of the Sunday on or before t in loc.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// DaysBetween counts calendar days from a to b in loc. Positive when b is later.
// It compares dates, not 24h spans, so DST transitions don't skew the result.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	a, b = a.In(loc), b.In(loc)
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// NextStreak applies one activity on today to the stored state.
//
//	no previous date      -> 1
//	previous is today     -> unchanged
//	previous is yesterday -> +1
//	anything else         -> 1
func NextStreak(cur types.StreakState, today time.Time, loc *time.Location) types.StreakState {
	today = StartOfDay(today, loc)
	next := types.StreakState{CurrentStreak: 1, LastActivityDate: &today}

	if cur.LastActivityDate == nil {
		return next
	}
	switch DaysBetween(*cur.LastActivityDate, today, loc) {
	case 0:
		next.CurrentStreak = cur.CurrentStreak
	case 1:
		next.CurrentStreak = cur.CurrentStreak + 1
	}
	return next
}

// RecalculateStreak rebuilds the streak from activity dates as of today.
// It returns the streak and the most recent activity day (nil when there is none).
// Days after today are ignored. When the most recent day is two or more days
// old the streak is 0.
func RecalculateStreak(dates []time.Time, today time.Time, loc *time.Location) (int, *time.Time) {
	today = StartOfDay(today, loc)

	seen := make(map[time.Time]struct{}, len(dates))
	days := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		day := StartOfDay(d, loc)
		if day.After(today) {
			continue
		}
		if _, ok := seen[day]; ok {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	if len(days) == 0 {
		return 0, nil
	}

	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	latest := days[0]

	if DaysBetween(latest, today, loc) > 1 {
		return 0, &latest
	}

	streak := 1
	for i := 1; i < len(days); i++ {
		if DaysBetween(days[i], days[i-1], loc) != 1 {
			break
		}
		streak++
	}
	return streak, &latest
}
