package hours

import (
	"testing"
	"time"

	"leadline/internal/tenants"
)

func fixedClock(t *testing.T, utc string) func() time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, utc)
	if err != nil {
		t.Fatalf("parse %q: %v", utc, err)
	}
	return func() time.Time { return ts }
}

func tenant(tz string) tenants.Tenant {
	return tenants.Tenant{
		Timezone:   tz,
		DayStart:   7,
		DayEnd:     17,
		EveningEnd: 21,
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		utc  string // instant, UTC
		tz   string
		want Period
	}{
		// 18:00 UTC = 10:00 in Los Angeles (PDT, summer).
		{"daytime", "2026-07-10T18:00:00Z", "America/Los_Angeles", Daytime},
		// 01:00 UTC = 18:00 previous day in LA: evening.
		{"evening", "2026-07-10T01:00:00Z", "America/Los_Angeles", Evening},
		// 10:00 UTC = 03:00 in LA: sleep.
		{"sleep early", "2026-07-10T10:00:00Z", "America/Los_Angeles", Sleep},
		// 05:30 UTC = 22:30 previous day in LA: sleep.
		{"sleep late", "2026-07-10T05:30:00Z", "America/Los_Angeles", Sleep},
		// Boundary: exactly day_end is evening, not daytime. 17:00 LA = 00:00 UTC next day.
		{"day end boundary", "2026-07-11T00:00:00Z", "America/Los_Angeles", Evening},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := New("UTC", fixedClock(t, tc.utc))
			if got := c.Classify(tenant(tc.tz)); got != tc.want {
				t.Errorf("Classify = %q, want %q (local hour %d)", got, tc.want, c.LocalHour(tenant(tc.tz)))
			}
		})
	}
}

func TestUnknownTimezoneFallsBack(t *testing.T) {
	c := New("America/New_York", fixedClock(t, "2026-07-10T16:00:00Z")) // 12:00 in NY

	tn := tenant("Mars/Olympus_Mons")
	if got := c.LocalHour(tn); got != 12 {
		t.Errorf("LocalHour = %d, want 12 (fallback zone)", got)
	}
	if got := c.Classify(tn); got != Daytime {
		t.Errorf("Classify = %q, want daytime", got)
	}
}

func TestUnknownFallbackDegradesToUTC(t *testing.T) {
	c := New("Not/AZone", fixedClock(t, "2026-07-10T12:00:00Z"))
	tn := tenant("")
	if got := c.LocalHour(tn); got != 12 {
		t.Errorf("LocalHour = %d, want 12 (UTC)", got)
	}
}

func TestInQuietHours(t *testing.T) {
	cases := []struct {
		name  string
		hour  int // tenant-local hour, tenant tz = UTC
		tn    tenants.Tenant
		quiet bool
	}{
		{"mid-day open", 12, tenant("UTC"), false},
		{"before window", 6, tenant("UTC"), true},
		{"window start", 7, tenant("UTC"), false},
		{"window end blocked", 21, tenant("UTC"), true},
		{"late night", 23, tenant("UTC"), true},
		{"defaults when window unset", 7, tenants.Tenant{Timezone: "UTC"}, true},
		{"defaults open at 8", 8, tenants.Tenant{Timezone: "UTC"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ts := time.Date(2026, 7, 10, tc.hour, 30, 0, 0, time.UTC)
			c := New("UTC", func() time.Time { return ts })
			if got := c.InQuietHours(tc.tn); got != tc.quiet {
				t.Errorf("InQuietHours at %02d:30 = %v, want %v", tc.hour, got, tc.quiet)
			}
		})
	}
}
