package safety

import (
	"context"
	"strings"
	"testing"
	"time"

	"leadline/internal/consent"
	"leadline/internal/hours"
	"leadline/internal/leads"
	"leadline/internal/tenants"
)

const (
	adminPhone    = "+15559990000"
	operatorPhone = "+15005550123"
	customer      = "+14155550111"
)

func newFixture(t *testing.T, localHour int) (*Gate, *leads.MemoryRepo, *consent.MemoryLedger) {
	t.Helper()
	tenantRepo := tenants.NewMemoryRepo()
	tenantRepo.Create(context.Background(), tenants.Tenant{
		ID:             "ten1",
		InboundNumber:  "+15005550000",
		OperatorNumber: operatorPhone,
		DisplayName:    "Ridgeline Plumbing",
		Timezone:       "UTC",
		DayStart:       7,
		DayEnd:         17,
		EveningEnd:     21,
	})
	leadRepo := leads.NewMemoryRepo()
	ledger := consent.NewMemoryLedger()

	now := time.Date(2026, 6, 1, localHour, 30, 0, 0, time.UTC)
	clock := hours.New("UTC", func() time.Time { return now })
	ledger.RecordImplied(context.Background(), "ten1", "", customer, consent.SourceInboundCall, now.Add(-time.Hour))

	return NewGate(NewOptOutCache(), leadRepo, tenantRepo, ledger, clock, adminPhone, nil), leadRepo, ledger
}

func TestAuthorizeAppendsFooter(t *testing.T) {
	gate, _, _ := newFixture(t, 12)

	dec := gate.Authorize(context.Background(), Draft{TenantID: "ten1", To: customer, Body: "Thanks for calling!"})
	if !dec.Allowed || dec.Deferred {
		t.Fatalf("decision = %+v, want allowed now", dec)
	}
	if !strings.HasSuffix(dec.Body, "Reply STOP to unsubscribe.") {
		t.Errorf("footer missing: %q", dec.Body)
	}

	// Bodies that already mention STOP are not double-footered.
	dec = gate.Authorize(context.Background(), Draft{TenantID: "ten1", To: customer, Body: "Hi! Reply STOP to opt out."})
	if strings.Count(strings.ToLower(dec.Body), "stop") != 1 {
		t.Errorf("footer duplicated: %q", dec.Body)
	}
}

func TestAuthorizeOptOutBeatsEverything(t *testing.T) {
	gate, leadRepo, _ := newFixture(t, 12)
	ctx := context.Background()
	leadRepo.Upsert(ctx, "ten1", customer, time.Now())
	leadRepo.MarkOptOut(ctx, "ten1", customer)

	dec := gate.Authorize(ctx, Draft{TenantID: "ten1", To: customer, Body: "hi"})
	if dec.Allowed || dec.Reason != ReasonOptOut {
		t.Fatalf("decision = %+v, want opt_out rejection", dec)
	}
	if !gate.Cache().IsOptedOut(customer) {
		t.Error("store hit should prime the cache")
	}

	// Internal traffic also respects opt-out.
	dec = gate.Authorize(ctx, Draft{TenantID: "ten1", To: customer, Internal: true, Body: "hi"})
	if dec.Allowed {
		t.Error("internal flag must not override opt-out")
	}
}

func TestAuthorizeRejections(t *testing.T) {
	gate, _, _ := newFixture(t, 12)
	ctx := context.Background()

	cases := []struct {
		name   string
		draft  Draft
		reason RejectReason
	}{
		{"unknown tenant", Draft{TenantID: "nope", To: customer, Body: "x"}, ReasonInvalidTenant},
		{"garbage number", Draft{TenantID: "ten1", To: "call me", Body: "x"}, ReasonInvalidNumber},
		{"no consent", Draft{TenantID: "ten1", To: "+14155559999", Body: "x"}, ReasonNoConsent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dec := gate.Authorize(ctx, tc.draft)
			if dec.Allowed || dec.Reason != tc.reason {
				t.Errorf("decision = %+v, want %q", dec, tc.reason)
			}
		})
	}
}

func TestAuthorizeQuietHoursDefers(t *testing.T) {
	gate, _, _ := newFixture(t, 23)
	ctx := context.Background()

	dec := gate.Authorize(ctx, Draft{TenantID: "ten1", To: customer, Body: "late night"})
	if !dec.Allowed || !dec.Deferred || dec.Reason != ReasonQuietHours {
		t.Fatalf("decision = %+v, want deferred", dec)
	}
	if !strings.Contains(dec.Body, "Reply STOP") {
		t.Error("deferred body should already carry the footer")
	}

	// Emergency responses go out regardless of the hour.
	dec = gate.Authorize(ctx, Draft{TenantID: "ten1", To: customer, Body: "on our way", EmergencyResponse: true})
	if !dec.Allowed || dec.Deferred {
		t.Errorf("emergency decision = %+v, want immediate", dec)
	}

	// Operator alerts go out regardless of the hour, without a footer.
	dec = gate.Authorize(ctx, Draft{TenantID: "ten1", To: operatorPhone, Body: "new lead"})
	if !dec.Allowed || dec.Deferred {
		t.Errorf("operator decision = %+v, want immediate", dec)
	}
	if strings.Contains(dec.Body, "Reply STOP") {
		t.Error("internal alert must not carry the compliance footer")
	}

	dec = gate.Authorize(ctx, Draft{TenantID: "ten1", To: adminPhone, Body: "dead letter"})
	if !dec.Allowed || dec.Deferred {
		t.Errorf("admin decision = %+v, want immediate", dec)
	}
}

func TestOptOutCacheClear(t *testing.T) {
	c := NewOptOutCache()
	c.MarkOptedOut(customer)
	if !c.IsOptedOut(customer) {
		t.Fatal("mark did not stick")
	}
	c.Clear(customer)
	if c.IsOptedOut(customer) {
		t.Error("clear did not remove the entry")
	}
}
