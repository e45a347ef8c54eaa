// Package tenants holds the businesses the platform answers calls for, keyed
// by their provisioned inbound number.
package tenants

import "time"

// Tenant is one onboarded business. Hours are tenant-local hour integers:
// [DayStart, DayEnd) is daytime, [DayEnd, EveningEnd) is evening, the rest is
// sleep. EmergencyMode forces the after-hours emergency flow regardless of the
// clock; AIActive=false pauses all automated handling for the tenant.
type Tenant struct {
	ID              string
	InboundNumber   string
	OperatorNumber  string
	DisplayName     string
	Timezone        string
	DayStart        int
	DayEnd          int
	EveningEnd      int
	EmergencyMode   bool
	AIActive        bool
	AverageJobValue float64
	ReviewLink      string
	SheetID         string
	CreatedAt       time.Time
}
