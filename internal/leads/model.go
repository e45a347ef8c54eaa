// Package leads tracks the people who called or texted a tenant's number.
// A lead is unique per (tenant, phone) and never deleted.
package leads

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("leads: not found")
	// ErrStatusLocked is returned when a non-admin transition would move a
	// lead out of booked.
	ErrStatusLocked = errors.New("leads: booked status may only be changed by an admin")
)

type Status string

const (
	StatusNew       Status = "new"
	StatusContacted Status = "contacted"
	StatusReplied   Status = "replied"
	StatusBooked    Status = "booked"
	StatusLost      Status = "lost"
)

func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusContacted, StatusReplied, StatusBooked, StatusLost:
		return true
	}
	return false
}

type Intent string

const (
	IntentNone      Intent = ""
	IntentEmergency Intent = "emergency"
	IntentService   Intent = "service"
	IntentInquiry   Intent = "inquiry"
)

type Lead struct {
	ID            string
	TenantID      string
	Phone         string
	Status        Status
	Intent        Intent
	OptOut        bool
	Name          string
	CreatedAt     time.Time
	LastContactAt time.Time
}
