package alerts

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
	testTenant   = "ten1"
	testOperator = "+15005550123"
	testCustomer = "+14155550111"
)

type fixture struct {
	repo  *MemoryRepo
	queue *outbound.MemoryRepo
	deb   *Debouncer
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)

	tenantRepo := tenants.NewMemoryRepo()
	tenantRepo.Create(context.Background(), tenants.Tenant{
		ID:             testTenant,
		InboundNumber:  "+15005550000",
		OperatorNumber: testOperator,
		DisplayName:    "Ridgeline Plumbing",
		Timezone:       "America/New_York",
		DayStart:       7,
		DayEnd:         17,
		EveningEnd:     21,
	})
	clock := hours.New("UTC", func() time.Time { return now })
	gate := safety.NewGate(safety.NewOptOutCache(), leads.NewMemoryRepo(), tenantRepo,
		consent.NewMemoryLedger(), clock, "+15559990000", nil)

	queueRepo := outbound.NewMemoryRepo()
	queue := outbound.NewQueue(queueRepo, gate, nil)

	f := &fixture{
		repo:  NewMemoryRepo(),
		queue: queueRepo,
		now:   now,
	}
	f.deb = NewDebouncer(f.repo, queue, nil)
	f.deb.clock = func() time.Time { return f.now }
	return f
}

func TestBufferCoalesces(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "first message")
	f.now = f.now.Add(10 * time.Second)
	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "second message")

	due, _ := f.repo.Due(ctx, f.now.Add(DebounceWindow))
	if len(due) != 1 {
		t.Fatalf("buffers = %d, want 1", len(due))
	}
	b := due[0]
	if b.Count != 2 {
		t.Errorf("count = %d, want 2", b.Count)
	}
	if b.CoalescedText != "first message\nsecond message" {
		t.Errorf("text = %q", b.CoalescedText)
	}
	if want := f.now.Add(DebounceWindow); !b.SendAt.Equal(want) {
		t.Errorf("send_at = %v, want %v (extended by second bump)", b.SendAt, want)
	}
}

func TestSweepWaitsForQuiescence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "hello")

	// Ten seconds in: window still open, nothing flushes.
	f.now = f.now.Add(10 * time.Second)
	f.deb.Sweep(ctx)
	if got := len(f.queue.All()); got != 0 {
		t.Fatalf("outbounds after early sweep = %d, want 0", got)
	}

	// Past the window: exactly one coalesced alert, buffer gone.
	f.now = f.now.Add(DebounceWindow)
	f.deb.Sweep(ctx)
	rows := f.queue.All()
	if len(rows) != 1 {
		t.Fatalf("outbounds = %d, want 1", len(rows))
	}
	if rows[0].To != testOperator {
		t.Errorf("to = %q, want operator", rows[0].To)
	}
	if !strings.Contains(rows[0].Body, "Lead Alert: "+testCustomer) {
		t.Errorf("body = %q", rows[0].Body)
	}
	if f.repo.Len() != 0 {
		t.Errorf("buffer not deleted after flush")
	}

	// Sweeping again emits nothing.
	f.deb.Sweep(ctx)
	if got := len(f.queue.All()); got != 1 {
		t.Errorf("outbounds after re-sweep = %d, want still 1", got)
	}
}

func TestSweepDedupesAcrossWorkers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "hello")
	f.now = f.now.Add(DebounceWindow + time.Second)

	// Two workers sweep the same due buffer; the idempotency key dedupes.
	f.deb.Sweep(ctx)
	f.deb.Sweep(ctx)
	if got := len(f.queue.All()); got != 1 {
		t.Errorf("outbounds = %d, want 1", got)
	}
}

func TestBumpDuringFlushKeepsBuffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "hello")
	f.now = f.now.Add(DebounceWindow + time.Second)

	due, _ := f.repo.Due(ctx, f.now)
	stale := due[0]

	// A new message lands before the sweeper deletes.
	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "one more thing")

	deleted, err := f.repo.ClearFlushed(ctx, stale)
	if err != nil {
		t.Fatalf("ClearFlushed: %v", err)
	}
	if deleted {
		t.Error("buffer with an extended window must survive the stale clear")
	}
	if f.repo.Len() != 1 {
		t.Errorf("buffers = %d, want 1", f.repo.Len())
	}
}

func TestBumpDuringFlushDoesNotResendFlushedText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "first message")
	f.now = f.now.Add(DebounceWindow + time.Second)

	// Interleave a bump between the sweeper's read and its enqueue+clear.
	due, _ := f.repo.Due(ctx, f.now)
	f.deb.Buffer(ctx, testTenant, testCustomer, testOperator, "second message")
	f.deb.flush(ctx, due[0])

	rows := f.queue.All()
	if len(rows) != 1 {
		t.Fatalf("outbounds after first flush = %d, want 1", len(rows))
	}
	if !strings.Contains(rows[0].Body, "first message") {
		t.Fatalf("first alert body = %q", rows[0].Body)
	}

	// The surviving buffer flushes on the next quiet window with only the
	// text the operator has not seen.
	f.now = f.now.Add(DebounceWindow + time.Second)
	f.deb.Sweep(ctx)
	rows = f.queue.All()
	if len(rows) != 2 {
		t.Fatalf("outbounds after second flush = %d, want 2", len(rows))
	}
	second := rows[1].Body
	if strings.Contains(second, "first message") {
		t.Errorf("second alert re-sends flushed text: %q", second)
	}
	if !strings.Contains(second, "second message") {
		t.Errorf("second alert missing new text: %q", second)
	}
	if !strings.Contains(second, "sent a message:") {
		t.Errorf("second alert count wrong: %q", second)
	}
}

func TestComposeAlert(t *testing.T) {
	one := ComposeAlert(testCustomer, 1, "hi")
	if !strings.Contains(one, "sent a message:") {
		t.Errorf("singular form wrong: %q", one)
	}
	many := ComposeAlert(testCustomer, 3, "a\nb\nc")
	if !strings.Contains(many, "sent 3 messages:") {
		t.Errorf("plural form wrong: %q", many)
	}
	for _, s := range []string{one, many} {
		if !strings.Contains(s, "---\n") {
			t.Errorf("missing delimiter: %q", s)
		}
	}
}
