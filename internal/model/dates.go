package model

import "time"

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped moves t by n months keeping the wall clock and the
// day-of-month, clamped to the last day of the target month
// (Jan 31 + 1 month = Feb 28 or 29). time.AddDate would roll into March.
func AddMonthsClamped(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	ty := y + floorDiv(total, 12)
	tm := time.Month(floorMod(total, 12) + 1)
	if last := DaysInMonth(ty, tm); d > last {
		d = last
	}
	return time.Date(ty, tm, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// AddYearsClamped moves t by n years; Feb 29 lands on Feb 28 in non-leap years.
func AddYearsClamped(t time.Time, n int) time.Time {
	return AddMonthsClamped(t, 12*n)
}

// StartOfWeek returns Monday 00:00 of the week containing t, in t's location.
func StartOfWeek(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d-MondayOffset(t.Weekday()), 0, 0, 0, 0, t.Location())
}

// MondayOffset is the number of days from Monday to wd (Monday 0 … Sunday 6).
func MondayOffset(wd time.Weekday) int {
	return (int(wd) + 6) % 7
}

// AtClock returns the date of day with the clock time of clock.
func AtClock(day, clock time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

// DaysBetween counts calendar days from a to b (negative when b is earlier),
// ignoring clock time and DST shifts.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// MonthsBetween counts whole calendar months from a's month to b's month.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
