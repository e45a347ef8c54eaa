// Package hours classifies wall-clock time against a tenant's business-hours
// window. Classification drives the voice routing branch; the quiet-hours
// window gates outbound sends.
package hours

import (
	"time"

	"leadline/internal/tenants"
)

// Period is the coarse tenant-local time-of-day bucket.
type Period string

const (
	Daytime Period = "daytime"
	Evening Period = "evening"
	Sleep   Period = "sleep"
)

// Quiet-hours defaults when the tenant window does not override them.
const (
	DefaultQuietStart = 8  // sends allowed from 08:00 local
	DefaultQuietEnd   = 21 // sends blocked from 21:00 local
)

// Clock computes tenant-local time. The zero value uses time.Now and UTC
// fallback; construct with New to set the fallback zone.
type Clock struct {
	now      func() time.Time
	fallback *time.Location
}

// New builds a Clock with the given fallback timezone name. An unknown
// fallback name degrades to UTC; the Clock never fails at call time.
func New(fallbackTZ string, now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	loc, err := time.LoadLocation(fallbackTZ)
	if err != nil || loc == nil {
		loc = time.UTC
	}
	return Clock{now: now, fallback: loc}
}

// LocalHour returns the current hour [0,24) in the tenant's timezone,
// falling back to the configured default zone when the tenant's is unknown.
func (c Clock) LocalHour(t tenants.Tenant) int {
	return c.localTime(t).Hour()
}

// Classify buckets the current tenant-local hour:
// daytime for [DayStart, DayEnd), evening for [DayEnd, EveningEnd),
// sleep otherwise.
func (c Clock) Classify(t tenants.Tenant) Period {
	h := c.LocalHour(t)
	switch {
	case h >= t.DayStart && h < t.DayEnd:
		return Daytime
	case h >= t.DayEnd && h < t.EveningEnd:
		return Evening
	default:
		return Sleep
	}
}

// InQuietHours reports whether outbound sends to this tenant's customers are
// currently blocked. Sends are allowed within [start, end) tenant-local; the
// tenant window overrides the default when it is wider than zero.
func (c Clock) InQuietHours(t tenants.Tenant) bool {
	start, end := DefaultQuietStart, DefaultQuietEnd
	if t.DayStart > 0 || t.EveningEnd > 0 {
		if t.DayStart > 0 {
			start = t.DayStart
		}
		if t.EveningEnd > 0 {
			end = t.EveningEnd
		}
	}
	h := c.LocalHour(t)
	return h < start || h >= end
}

// Now returns the current time (injectable for tests).
func (c Clock) Now() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}

func (c Clock) localTime(t tenants.Tenant) time.Time {
	loc := c.fallback
	if loc == nil {
		loc = time.UTC
	}
	if t.Timezone != "" {
		if l, err := time.LoadLocation(t.Timezone); err == nil {
			loc = l
		}
	}
	return c.Now().In(loc)
}
