package campaign

import "time"

// InQuietHours reports whether now falls inside the [start, end) window.
// Times are "HH:MM" local clock values; a window that ends before it starts
// wraps past midnight (e.g. 22:00 to 08:00). Empty or equal bounds disable
// the window.
func InQuietHours(now time.Time, start, end string) bool {
	if start == "" || end == "" || start == end {
		return false
	}
	s, okS := parseClock(start)
	e, okE := parseClock(end)
	if !okS || !okE {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if s < e {
		return cur >= s && cur < e
	}
	return cur >= s || cur < e
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(v string) (int, bool) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
