package webhooks

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"testing"
	"time"
)

func TestGuardFreshThenDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	guard := NewGuard(repo)

	res := guard.Check(ctx, "CA1", "voice", "ten1", "int-1")
	if res.Status != StatusFresh {
		t.Fatalf("first check = %q, want fresh", res.Status)
	}

	res = guard.Check(ctx, "CA1", "voice", "ten1", "int-2")
	if res.Status != StatusDuplicate {
		t.Fatalf("second check = %q, want duplicate", res.Status)
	}
	if res.PriorInternalID != "int-1" {
		t.Errorf("prior internal id = %q, want int-1", res.PriorInternalID)
	}
	if repo.Len() != 1 {
		t.Errorf("rows = %d, want exactly one", repo.Len())
	}
}

func TestGuardSubEventKeysAreDistinct(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(NewMemoryRepo())

	k1 := SubEventKey("CA1", "no-answer")
	k2 := SubEventKey("CA1", "completed")
	if k1 == k2 {
		t.Fatal("sub-event keys must differ per status")
	}
	if k1 != "CA1_status_no-answer" {
		t.Errorf("key = %q", k1)
	}
	if got := guard.Check(ctx, k1, "voice_status", "ten1", "a"); got.Status != StatusFresh {
		t.Errorf("first status callback = %q", got.Status)
	}
	if got := guard.Check(ctx, k2, "voice_status", "ten1", "b"); got.Status != StatusFresh {
		t.Errorf("different status callback = %q, want fresh", got.Status)
	}
	if got := guard.Check(ctx, k1, "voice_status", "ten1", "c"); got.Status != StatusDuplicate {
		t.Errorf("repeat status callback = %q, want duplicate", got.Status)
	}
}

func TestGuardStoreDownFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepo()
	guard := NewGuard(repo)

	guard.Check(ctx, "CA1", "voice", "ten1", "int-1")
	repo.Fail = true

	// Cache can still prove a duplicate.
	res := guard.Check(ctx, "CA1", "voice", "ten1", "int-x")
	if res.Status != StatusDuplicate {
		t.Errorf("cached duplicate = %q, want duplicate", res.Status)
	}
	if res.PriorInternalID != "int-1" {
		t.Errorf("prior internal id = %q", res.PriorInternalID)
	}

	// It cannot prove freshness.
	res = guard.Check(ctx, "CA2", "voice", "ten1", "int-y")
	if res.Status != StatusUnknown {
		t.Errorf("unseen id with store down = %q, want unknown", res.Status)
	}
}

func TestMemoryReplayBoundedDrop(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryReplay(2, slog.Default())

	for i, sid := range []string{"CA1", "CA2", "CA3"} {
		e := RawEvent{
			Kind:       "voice",
			Form:       url.Values{"CallSid": {sid}},
			ReceivedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := q.Defer(ctx, e); err != nil {
			t.Fatalf("Defer: %v", err)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2 (oldest dropped)", q.Len())
	}

	var seen []string
	err := q.Drain(ctx, func(_ context.Context, e RawEvent) error {
		seen = append(seen, e.Form.Get("CallSid"))
		return nil
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(seen) != 2 || seen[0] != "CA2" || seen[1] != "CA3" {
		t.Errorf("drained = %v, want [CA2 CA3]", seen)
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.Len())
	}
}

func TestMemoryReplayFailingHandlerKeepsHead(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryReplay(10, slog.Default())
	q.Defer(ctx, RawEvent{Kind: "sms", Form: url.Values{"MessageSid": {"SM1"}}})

	boom := errors.New("store still down")
	err := q.Drain(ctx, func(context.Context, RawEvent) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("Drain err = %v", err)
	}
	if q.Len() != 1 {
		t.Errorf("failing event should stay queued, len = %d", q.Len())
	}
}
