package credits

import "time"

// CycleEnd returns the end of a billing cycle starting at start: the same day
// one month later, clamped to the last day of a shorter month.
func CycleEnd(start time.Time) time.Time {
	return addMonths(start, 1)
}

// CycleBounds returns the billing cycle containing now for a subscription
// anchored at anchor. Every cycle is derived from the anchor so a clamped
// month (Jan 31 -> Feb 28) does not shift later cycles.
func CycleBounds(anchor, now time.Time) (start, end time.Time) {
	if now.Before(anchor) {
		return anchor, addMonths(anchor, 1)
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()-anchor.Month())
	start = addMonths(anchor, months)
	if start.After(now) {
		months--
		start = addMonths(anchor, months)
	}
	return start, addMonths(anchor, months+1)
}

// CurrentCycleStart returns the start of the cycle containing now
func CurrentCycleStart(anchor, now time.Time) time.Time {
	start, _ := CycleBounds(anchor, now)
	return start
}

func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
