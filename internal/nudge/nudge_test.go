package nudge

import (
	"context"
	"strings"
	"testing"
	"time"

	"leadline/internal/consent"
	"leadline/internal/hours"
	"leadline/internal/leads"
	"leadline/internal/outbound"
	"leadline/internal/safety"
	"leadline/internal/tenants"
)

const (
	testCustomer = "+14155550111"
	testOperator = "+15005550123"
)

func newScheduler(t *testing.T, now time.Time) (*Scheduler, *outbound.MemoryRepo, tenants.Tenant) {
	t.Helper()
	tenant := tenants.Tenant{
		ID:             "ten1",
		InboundNumber:  "+15005550000",
		OperatorNumber: testOperator,
		DisplayName:    "Ridgeline Plumbing",
		Timezone:       "America/New_York",
		DayStart:       7,
		DayEnd:         17,
		EveningEnd:     21,
	}
	tenantRepo := tenants.NewMemoryRepo()
	tenantRepo.Create(context.Background(), tenant)

	ledger := consent.NewMemoryLedger()
	ledger.RecordImplied(context.Background(), tenant.ID, "lead1", testCustomer, consent.SourceInboundCall, now)

	clock := hours.New("UTC", func() time.Time { return now })
	gate := safety.NewGate(safety.NewOptOutCache(), leads.NewMemoryRepo(), tenantRepo,
		ledger, clock, "", nil)

	repo := outbound.NewMemoryRepo()
	s := NewScheduler(outbound.NewQueue(repo, gate, nil), nil)
	s.clock = func() time.Time { return now }
	return s, repo, tenant
}

func TestScheduleQueuesDelayedFollowUp(t *testing.T) {
	now := time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)
	s, repo, tenant := newScheduler(t, now)
	ctx := context.Background()

	if err := s.Schedule(ctx, tenant, testCustomer); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	rows := repo.All()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	m := rows[0]
	if m.ExternalID != "nudge_"+testCustomer {
		t.Errorf("external id = %q", m.ExternalID)
	}
	if m.ScheduledFor == nil || !m.ScheduledFor.Equal(now.Add(Delay)) {
		t.Errorf("scheduled_for = %v, want %v", m.ScheduledFor, now.Add(Delay))
	}
	if !strings.Contains(m.Body, tenant.DisplayName) {
		t.Errorf("body missing business name: %q", m.Body)
	}

	// Scheduling again is a no-op.
	if err := s.Schedule(ctx, tenant, testCustomer); err != nil {
		t.Fatalf("second Schedule: %v", err)
	}
	if got := len(repo.All()); got != 1 {
		t.Errorf("rows after reschedule = %d, want 1", got)
	}
}

func TestCancelWithdrawsPendingNudge(t *testing.T) {
	now := time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)
	s, repo, tenant := newScheduler(t, now)
	ctx := context.Background()

	if err := s.Cancel(ctx, testCustomer); err != nil {
		t.Fatalf("Cancel with nothing pending: %v", err)
	}

	s.Schedule(ctx, tenant, testCustomer)
	if err := s.Cancel(ctx, testCustomer); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rows := repo.All()
	if len(rows) != 1 || rows[0].Status != outbound.StatusCancelled {
		t.Fatalf("rows = %+v, want one cancelled", rows)
	}
}
