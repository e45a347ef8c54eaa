package consent

import (
	"context"
	"testing"
	"time"
)

func TestImpliedConsentExpires(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, err := ledger.RecordImplied(ctx, "ten1", "lead1", "+15551230001", SourceInboundCall, t0)
	if err != nil {
		t.Fatalf("RecordImplied: %v", err)
	}
	if rec.ExpiresAt == nil {
		t.Fatal("implied consent must carry an expiry")
	}
	if want := t0.Add(ImpliedTTL); !rec.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", rec.ExpiresAt, want)
	}

	ok, _ := ledger.HasConsent(ctx, "+15551230001", t0.Add(24*time.Hour))
	if !ok {
		t.Error("consent should hold the day after the call")
	}
	ok, _ = ledger.HasConsent(ctx, "+15551230001", t0.Add(ImpliedTTL).Add(time.Hour))
	if ok {
		t.Error("consent should lapse after the implied TTL")
	}
}

func TestExpressConsentNeverExpires(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	rec, err := ledger.RecordExpress(ctx, "ten1", "lead1", "+15551230001", SourceInboundSMS, t0)
	if err != nil {
		t.Fatalf("RecordExpress: %v", err)
	}
	if rec.ExpiresAt != nil {
		t.Error("express consent must not expire")
	}
	ok, _ := ledger.HasConsent(ctx, "+15551230001", t0.AddDate(10, 0, 0))
	if !ok {
		t.Error("express consent should hold ten years later")
	}
}

func TestRevokeAllIsGlobal(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	ledger.RecordImplied(ctx, "ten1", "lead1", "+15551230001", SourceInboundCall, t0)
	ledger.RecordExpress(ctx, "ten2", "lead2", "+15551230001", SourceInboundSMS, t0)
	ledger.RecordImplied(ctx, "ten1", "lead3", "+15551230002", SourceInboundCall, t0)

	if err := ledger.RevokeAll(ctx, "+15551230001", "stop_keyword", t0.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}

	ok, _ := ledger.HasConsent(ctx, "+15551230001", t0.Add(2*time.Hour))
	if ok {
		t.Error("revocation must cover every tenant's records for the phone")
	}
	ok, _ = ledger.HasConsent(ctx, "+15551230002", t0.Add(2*time.Hour))
	if !ok {
		t.Error("revocation must not touch other phones")
	}

	recs, _ := ledger.ListByPhone(ctx, "+15551230001")
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (append-only, nothing deleted)", len(recs))
	}
	for _, r := range recs {
		if r.RevokedAt == nil {
			t.Errorf("record %s not revoked", r.ID)
		}
		if r.RevocationReason != "stop_keyword" {
			t.Errorf("reason = %q", r.RevocationReason)
		}
	}
}
