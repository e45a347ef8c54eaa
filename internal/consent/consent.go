// Package consent is the append-only ledger of permission to text a number.
// Records are never deleted; revocation stamps revoked_at and applies to every
// record for the phone, across tenants.
package consent

import (
	"time"
)

type Kind string

const (
	// Implied consent comes from the customer initiating contact; it expires.
	KindImplied Kind = "implied"
	// Express consent is an explicit opt-in (START); it does not expire.
	KindExpress Kind = "express"
)

type Source string

const (
	SourceInboundCall Source = "inbound_call"
	SourceInboundSMS  Source = "inbound_sms"
	SourceWebForm     Source = "web_form"
	SourceManual      Source = "manual"
)

// ImpliedTTL is how long customer-initiated consent remains usable.
const ImpliedTTL = 730 * 24 * time.Hour

type Record struct {
	ID               string
	LeadID           string
	TenantID         string
	Phone            string
	Kind             Kind
	Source           Source
	ConsentedAt      time.Time
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
	RevocationReason string
	Metadata         string
}

// Valid reports whether this single record grants consent at time t.
func (r Record) Valid(t time.Time) bool {
	if r.RevokedAt != nil {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(t)
}
