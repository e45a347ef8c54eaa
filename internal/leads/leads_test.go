package leads

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUpsertIsStableAcrossCalls(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first, err := repo.Upsert(ctx, "ten1", "+15551230001", t0)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if first.Status != StatusNew {
		t.Errorf("status = %q, want new", first.Status)
	}

	second, err := repo.Upsert(ctx, "ten1", "+15551230001", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("Upsert again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second upsert created a new lead: %q vs %q", second.ID, first.ID)
	}
	if !second.LastContactAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("last_contact_at = %v, want bumped", second.LastContactAt)
	}

	other, err := repo.Upsert(ctx, "ten2", "+15551230001", t0)
	if err != nil {
		t.Fatalf("Upsert other tenant: %v", err)
	}
	if other.ID == first.ID {
		t.Error("same phone under a different tenant must be a distinct lead")
	}
}

func TestBookedStatusGuard(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	l, _ := repo.Upsert(ctx, "ten1", "+15551230001", time.Now())

	if err := repo.SetStatus(ctx, l.ID, StatusBooked, false); err != nil {
		t.Fatalf("SetStatus booked: %v", err)
	}
	err := repo.SetStatus(ctx, l.ID, StatusLost, false)
	if !errors.Is(err, ErrStatusLocked) {
		t.Fatalf("non-admin demotion from booked: err = %v, want ErrStatusLocked", err)
	}
	if err := repo.SetStatus(ctx, l.ID, StatusLost, true); err != nil {
		t.Fatalf("admin demotion from booked: %v", err)
	}
	got, _ := repo.GetByPhone(ctx, "ten1", "+15551230001")
	if got.Status != StatusLost {
		t.Errorf("status = %q, want lost", got.Status)
	}
}

func TestOptOutIsGlobalPerPhone(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	repo.Upsert(ctx, "ten1", "+15551230001", time.Now())
	repo.Upsert(ctx, "ten2", "+15551230001", time.Now())

	if err := repo.MarkOptOut(ctx, "ten1", "+15551230001"); err != nil {
		t.Fatalf("MarkOptOut: %v", err)
	}
	out, err := repo.IsOptedOut(ctx, "+15551230001")
	if err != nil {
		t.Fatalf("IsOptedOut: %v", err)
	}
	if !out {
		t.Error("phone opted out under one tenant must read opted-out globally")
	}

	if err := repo.ClearOptOut(ctx, "ten1", "+15551230001"); err != nil {
		t.Fatalf("ClearOptOut: %v", err)
	}
	out, _ = repo.IsOptedOut(ctx, "+15551230001")
	if out {
		t.Error("explicit START should clear the opt-out flag")
	}
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusNew, StatusContacted, StatusReplied, StatusBooked, StatusLost} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if Status("archived").Valid() {
		t.Error("unknown status should be invalid")
	}
}
