package outbound

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"leadline/internal/convlog"
	"leadline/internal/telephony"
)

// slowGateway sleeps per send and hands out unique ids; used for contention.
type slowGateway struct {
	mu    sync.Mutex
	delay time.Duration
	n     int
	sent  []string
}

func (g *slowGateway) VerifySignature(string, map[string][]string, string) bool { return true }

func (g *slowGateway) Send(_ context.Context, to, _ string) (string, error) {
	time.Sleep(g.delay)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	g.sent = append(g.sent, to)
	return fmt.Sprintf("SM%06d", g.n), nil
}

func (g *slowGateway) Lookup(context.Context, string) (telephony.LookupResult, error) {
	return telephony.LookupResult{LineType: telephony.LineTypeUnknown}, nil
}

func newDispatcher(f *fixture, gw telephony.Gateway, cfg DispatcherConfig, onDead func(context.Context, Message)) *Dispatcher {
	return NewDispatcher(
		f.repo, f.gate, gw, f.leads, convlog.NewService(convlog.NewMemoryRepo()),
		nil, onDead, cfg, nil,
	)
}

func TestContentionNoDoubleSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const total = 100
	base := f.now.Add(-time.Hour)
	for i := 0; i < total; i++ {
		f.repo.Insert(ctx, Message{
			ID:        fmt.Sprintf("row-%03d", i),
			TenantID:  testTenant,
			To:        testCustomer,
			Body:      "hello",
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
	}

	gw := &slowGateway{delay: 2 * time.Millisecond}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 3, ClaimBatch: 10}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		d.Run(runCtx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	for {
		counts, _ := f.repo.CountByStatus(ctx, testTenant)
		if counts[StatusSent] == total {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("timed out, counts = %v", counts)
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	seen := map[string]bool{}
	for _, m := range f.repo.All() {
		if m.Status != StatusSent {
			t.Errorf("row %s status = %q, want sent", m.ID, m.Status)
		}
		if m.Attempts > 1 {
			t.Errorf("row %s attempts = %d, want ≤1", m.ID, m.Attempts)
		}
		if m.ProviderMessageID == "" {
			t.Errorf("row %s missing provider message id", m.ID)
		}
		if seen[m.ProviderMessageID] {
			t.Errorf("provider id %q recorded twice: double send", m.ProviderMessageID)
		}
		seen[m.ProviderMessageID] = true
	}
	if gw.n != total {
		t.Errorf("gateway sends = %d, want %d", gw.n, total)
	}
}

func TestStuckRowIsReclaimedAndDelivered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.Insert(ctx, Message{
		ID: "stuck", TenantID: testTenant, To: testCustomer, Body: "hello",
		CreatedAt: f.now.Add(-time.Hour),
	})
	f.repo.mutate("stuck", func(m *Message) {
		m.Status = StatusProcessing
		locked := f.now.Add(-10 * time.Minute)
		m.LockedAt = &locked
	})

	gw := &slowGateway{}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10, StuckTimeout: 5 * time.Minute}, nil)
	d.clock = func() time.Time { return f.now }

	if n := d.RunOnce(ctx); n != 1 {
		t.Fatalf("claimed = %d, want 1", n)
	}
	rows := f.repo.All()
	if len(rows) != 1 || rows[0].Status != StatusSent {
		t.Fatalf("row = %+v, want sent", rows[0])
	}
	if gw.n != 1 {
		t.Errorf("sends = %d, want exactly 1", gw.n)
	}
}

// failingGateway always returns the given error.
type failingGateway struct {
	err   error
	calls int
}

func (g *failingGateway) VerifySignature(string, map[string][]string, string) bool { return true }
func (g *failingGateway) Send(context.Context, string, string) (string, error) {
	g.calls++
	return "", g.err
}
func (g *failingGateway) Lookup(context.Context, string) (telephony.LookupResult, error) {
	return telephony.LookupResult{}, nil
}

func TestTransientFailureRetriesThenDeadLetters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.Insert(ctx, Message{
		ID: "doomed", TenantID: testTenant, To: testCustomer, Body: "hello",
		CreatedAt: f.now.Add(-time.Hour),
	})

	gw := &failingGateway{err: &telephony.TransientError{Code: 503, Msg: "down"}}
	var deadLettered []Message
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10, MaxRetries: 5},
		func(_ context.Context, m Message) { deadLettered = append(deadLettered, m) })

	// Step virtual time past each backoff so the row is always due.
	now := f.now
	d.clock = func() time.Time { return now }
	for i := 0; i < 5; i++ {
		if n := d.RunOnce(ctx); n != 1 {
			t.Fatalf("cycle %d claimed %d, want 1", i, n)
		}
		now = now.Add(time.Hour)
	}

	rows := f.repo.All()
	if rows[0].Status != StatusFailedPermanent {
		t.Fatalf("status = %q, want failed_permanent", rows[0].Status)
	}
	if rows[0].Attempts != 4 {
		t.Errorf("attempts = %d, want 4 (fifth attempt dead-letters)", rows[0].Attempts)
	}
	if gw.calls != 5 {
		t.Errorf("gateway calls = %d, want 5", gw.calls)
	}
	if len(deadLettered) != 1 || deadLettered[0].ID != "doomed" {
		t.Errorf("dead-letter hook = %+v, want one call for doomed", deadLettered)
	}

	// Terminal rows are never reclaimed.
	if n := d.RunOnce(ctx); n != 0 {
		t.Errorf("claimed %d after dead-letter, want 0", n)
	}
}

func TestPermanentRejectDeadLettersImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.Insert(ctx, Message{
		ID: "blocked", TenantID: testTenant, To: testCustomer, Body: "hello",
		CreatedAt: f.now.Add(-time.Hour),
	})

	gw := &failingGateway{err: &telephony.PermanentRejectError{Code: 21610, Msg: "unsubscribed"}}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10}, nil)
	d.clock = func() time.Time { return f.now }

	d.RunOnce(ctx)
	rows := f.repo.All()
	if rows[0].Status != StatusFailedPermanent {
		t.Errorf("status = %q, want failed_permanent", rows[0].Status)
	}
	if rows[0].Attempts != 0 {
		t.Errorf("attempts = %d, want 0 (no retry on permanent reject)", rows[0].Attempts)
	}
}

func TestDispatchRechecksOptOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.queue.Enqueue(ctx, EnqueueRequest{TenantID: testTenant, To: testCustomer, Body: "hello"})
	if err != nil || res.Outcome != OutcomeQueued {
		t.Fatalf("Enqueue = %+v, %v", res, err)
	}

	// Opt-out lands between enqueue and dispatch.
	f.leads.Upsert(ctx, testTenant, testCustomer, f.now)
	f.leads.MarkOptOut(ctx, testTenant, testCustomer)

	gw := &slowGateway{}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10}, nil)
	d.clock = func() time.Time { return f.now }

	d.RunOnce(ctx)
	rows := f.repo.All()
	if rows[0].Status != StatusFailedOptOut {
		t.Errorf("status = %q, want failed_optout", rows[0].Status)
	}
	if gw.n != 0 {
		t.Errorf("gateway sends = %d, want 0", gw.n)
	}
}

func TestQuietHoursDeferralDoesNotConsumeAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.queue.Enqueue(ctx, EnqueueRequest{TenantID: testTenant, To: testCustomer, Body: "hello"})
	if err != nil || res.Outcome != OutcomeQueued {
		t.Fatalf("Enqueue = %+v, %v", res, err)
	}

	gw := &slowGateway{}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10}, nil)
	// 04:00 UTC = 23:00 previous day in New York: quiet hours.
	night := time.Date(2026, 6, 2, 4, 0, 0, 0, time.UTC)
	d.clock = func() time.Time { return night }

	if n := d.RunOnce(ctx); n != 1 {
		t.Fatalf("claimed = %d, want 1", n)
	}
	rows := f.repo.All()
	if rows[0].Status != StatusPending {
		t.Errorf("status = %q, want pending (deferred)", rows[0].Status)
	}
	if rows[0].Attempts != 0 {
		t.Errorf("attempts = %d, deferral must not consume a retry", rows[0].Attempts)
	}
	if gw.n != 0 {
		t.Errorf("sends during quiet hours = %d, want 0", gw.n)
	}
}

func TestSafeModeMarksSentWithoutProviderCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.Insert(ctx, Message{
		ID: "safe", TenantID: testTenant, To: testCustomer, Body: "hello",
		CreatedAt: f.now.Add(-time.Hour),
	})

	gw := &failingGateway{err: &telephony.TransientError{Msg: "should never be called"}}
	d := newDispatcher(f, gw, DispatcherConfig{Workers: 2, ClaimBatch: 10, SafeMode: true}, nil)
	d.clock = func() time.Time { return f.now }

	d.RunOnce(ctx)
	rows := f.repo.All()
	if rows[0].Status != StatusSent {
		t.Errorf("status = %q, want sent", rows[0].Status)
	}
	if gw.calls != 0 {
		t.Errorf("gateway calls = %d, want 0 in safe mode", gw.calls)
	}
}
