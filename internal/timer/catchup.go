package timer

import "time"

// NextAfter collapses the firings a recurring timer missed while the
// process was down into a single future occurrence.
//
// Given the last scheduled instant and the recurrence interval, it returns
// the first instant on the timer's original grid that lies strictly after
// now: last + (floor((now-last)/interval)+1)*interval. One application is
// always enough, no matter how long the outage was, and the result stays on
// the grid (the distance from last is an exact multiple of the interval).
//
// Defined for last < now and interval > 0; for a last that is not yet due
// it simply advances one interval.
func NextAfter(last time.Time, interval time.Duration, now time.Time) time.Time {
	if interval <= 0 {
		return last
	}
	missed := now.Sub(last)/interval + 1
	if missed < 1 {
		missed = 1
	}
	return last.Add(time.Duration(missed) * interval)
}
