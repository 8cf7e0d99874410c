package command

import (
	"sync"
	"time"
)

// DailyRuntime accumulates how long the pump has run today. The total
// resets at local midnight; a run that spans midnight counts toward
// the new day from midnight on. It is safe for concurrent use.
type DailyRuntime struct {
	mu       sync.Mutex
	total    time.Duration
	since    time.Time // zero while the pump is off
	resetDay int       // year*1000 + day-of-year of last reset
	loc      *time.Location
}

// NewDailyRuntime creates an accumulator using the given timezone for
// midnight detection. If loc is nil, [time.Local] is used.
func NewDailyRuntime(loc *time.Location, now time.Time) *DailyRuntime {
	if loc == nil {
		loc = time.Local
	}
	return &DailyRuntime{
		resetDay: dayKey(now.In(loc)),
		loc:      loc,
	}
}

// Record notes a pump state change at now. Repeated calls with the
// same state are no-ops.
func (d *DailyRuntime) Record(on bool, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset(now)
	switch {
	case on && d.since.IsZero():
		d.since = now
	case !on && !d.since.IsZero():
		d.total += now.Sub(d.since)
		d.since = time.Time{}
	}
}

// Today returns the accumulated runtime for the current local day,
// including the running portion if the pump is on.
func (d *DailyRuntime) Today(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.maybeReset(now)
	total := d.total
	if !d.since.IsZero() && now.After(d.since) {
		total += now.Sub(d.since)
	}
	return total
}

// maybeReset zeroes the total if the local day has changed. Must be
// called with d.mu held.
func (d *DailyRuntime) maybeReset(now time.Time) {
	local := now.In(d.loc)
	today := dayKey(local)
	if today == d.resetDay {
		return
	}
	d.total = 0
	if !d.since.IsZero() {
		d.since = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, d.loc)
	}
	d.resetDay = today
}

func dayKey(t time.Time) int {
	return t.Year()*1000 + t.YearDay()
}
