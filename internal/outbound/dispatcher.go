package outbound

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"leadline/internal/convlog"
	"leadline/internal/leads"
	"leadline/internal/safety"
	"leadline/internal/telephony"
	"leadline/pkg/logger"
)

// Sweeper runs between claim cycles when a worker comes up empty; the alert
// debouncer hangs its flush off this hook.
type Sweeper interface {
	Sweep(ctx context.Context)
}

type DispatcherConfig struct {
	Workers      int
	ClaimBatch   int
	StuckTimeout time.Duration
	MaxRetries   int
	// Polling starts at BasePollInterval and multiplies by 1.5 on every empty
	// claim, capped at MaxPollInterval. A non-empty claim resets it.
	BasePollInterval time.Duration
	MaxPollInterval  time.Duration
	// SafeMode short-circuits the provider: sends are logged and marked sent.
	SafeMode bool
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	out := c
	if out.Workers < 2 {
		out.Workers = 2
	}
	if out.ClaimBatch <= 0 {
		out.ClaimBatch = 10
	}
	if out.StuckTimeout <= 0 {
		out.StuckTimeout = 5 * time.Minute
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = MaxRetries
	}
	if out.BasePollInterval <= 0 {
		out.BasePollInterval = 100 * time.Millisecond
	}
	if out.MaxPollInterval <= 0 {
		out.MaxPollInterval = 2 * time.Second
	}
	return out
}

// Dispatcher is the worker pool draining the queue. Workers cooperate only
// through the store's atomic claim; there is no shared in-process state.
type Dispatcher struct {
	repo    Repository
	gate    *safety.Gate
	gateway telephony.Gateway
	leads   leads.Repository
	convlog *convlog.Service
	sweeper Sweeper
	// onDeadLetter fires after a row moves to failed_permanent on retry
	// exhaustion; wired to a critical operator alert.
	onDeadLetter func(ctx context.Context, m Message)

	cfg   DispatcherConfig
	clock func() time.Time
	log   *slog.Logger
}

func NewDispatcher(
	repo Repository,
	gate *safety.Gate,
	gateway telephony.Gateway,
	leadRepo leads.Repository,
	logSvc *convlog.Service,
	sweeper Sweeper,
	onDeadLetter func(ctx context.Context, m Message),
	cfg DispatcherConfig,
	log *slog.Logger,
) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		repo:         repo,
		gate:         gate,
		gateway:      gateway,
		leads:        leadRepo,
		convlog:      logSvc,
		sweeper:      sweeper,
		onDeadLetter: onDeadLetter,
		cfg:          cfg.withDefaults(),
		clock:        time.Now,
		log:          log,
	}
}

// Run blocks until ctx is cancelled and all workers have drained.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < d.cfg.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.workerLoop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (d *Dispatcher) workerLoop(ctx context.Context, worker int) {
	poll := d.cfg.BasePollInterval
	for {
		if ctx.Err() != nil {
			return
		}
		n := d.RunOnce(ctx)
		if n > 0 {
			poll = d.cfg.BasePollInterval
			continue
		}
		if d.sweeper != nil {
			d.sweeper.Sweep(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
		poll = poll * 3 / 2
		if poll > d.cfg.MaxPollInterval {
			poll = d.cfg.MaxPollInterval
		}
	}
}

// RunOnce claims and processes one batch, returning the number of rows
// claimed. Exposed so tests can step the dispatcher deterministically.
func (d *Dispatcher) RunOnce(ctx context.Context) int {
	claimed, err := d.repo.Claim(ctx, d.cfg.ClaimBatch, d.clock().UTC(), d.cfg.StuckTimeout)
	if err != nil {
		d.log.Warn("claim failed", slog.String("error", err.Error()))
		return 0
	}
	for _, m := range claimed {
		d.process(ctx, m)
	}
	return len(claimed)
}

func (d *Dispatcher) process(ctx context.Context, m Message) DispatchOutcome {
	now := d.clock().UTC()

	// Authorization races the queue (opt-out after enqueue), so the gate
	// runs again here. The stored body already carries the footer; the gate
	// will not append twice.
	dec := d.gate.Authorize(ctx, safety.Draft{
		TenantID:          m.TenantID,
		To:                m.To,
		Body:              m.Body,
		EmergencyResponse: isEmergencyID(m.ExternalID),
	})
	if !dec.Allowed {
		status := StatusFailedSafety
		if dec.Reason == safety.ReasonOptOut || dec.Reason == safety.ReasonNoConsent {
			status = StatusFailedOptOut
		}
		if err := d.repo.Fail(ctx, m.ID, status, now); err != nil {
			d.log.Warn("finalize (reject) failed; stuck recovery will retry",
				slog.String("id", m.ID), slog.String("error", err.Error()))
		}
		return Rejected{Reason: dec.Reason}
	}
	if dec.Deferred {
		if err := d.repo.Defer(ctx, m.ID, now); err != nil {
			d.log.Warn("defer failed; stuck recovery will retry",
				slog.String("id", m.ID), slog.String("error", err.Error()))
		}
		return Deferred{}
	}

	outcome := d.send(ctx, m.To, dec.Body)
	d.finalize(ctx, m, outcome)
	return outcome
}

func (d *Dispatcher) send(ctx context.Context, to, body string) DispatchOutcome {
	if d.cfg.SafeMode {
		d.log.Info("safe mode: suppressing real send",
			slog.String("to", logger.MaskPhone(to)))
		return Sent{ProviderMessageID: "safe-mode"}
	}
	providerID, err := d.gateway.Send(ctx, to, body)
	if err == nil {
		return Sent{ProviderMessageID: providerID}
	}

	var permanent *telephony.PermanentRejectError
	var notFound *telephony.NotFoundError
	if errors.As(err, &permanent) || errors.As(err, &notFound) {
		return Permanent{Err: err}
	}
	// Auth failures are treated as transient: broken credentials heal
	// without the message changing, and MaxRetries bounds the damage.
	return Transient{Err: err}
}

func (d *Dispatcher) finalize(ctx context.Context, m Message, outcome DispatchOutcome) {
	now := d.clock().UTC()
	switch o := outcome.(type) {
	case Sent:
		if err := d.repo.MarkSent(ctx, m.ID, o.ProviderMessageID, now); err != nil {
			d.log.Warn("finalize (sent) failed; stuck recovery will retry",
				slog.String("id", m.ID), slog.String("error", err.Error()))
			return
		}
		d.afterSend(ctx, m, o.ProviderMessageID)
	case Transient:
		if m.Attempts+1 >= d.cfg.MaxRetries {
			if err := d.repo.Fail(ctx, m.ID, StatusFailedPermanent, now); err != nil {
				d.log.Warn("finalize (dead-letter) failed",
					slog.String("id", m.ID), slog.String("error", err.Error()))
				return
			}
			d.log.Error("outbound dead-lettered after retry exhaustion",
				slog.String("id", m.ID),
				slog.String("to", logger.MaskPhone(m.To)),
				slog.Int("attempts", m.Attempts+1),
				slog.String("error", o.Err.Error()))
			if d.onDeadLetter != nil {
				d.onDeadLetter(ctx, m)
			}
			return
		}
		if err := d.repo.Retry(ctx, m.ID, now); err != nil {
			d.log.Warn("finalize (retry) failed; stuck recovery will retry",
				slog.String("id", m.ID), slog.String("error", err.Error()))
		}
	case Permanent:
		if err := d.repo.Fail(ctx, m.ID, StatusFailedPermanent, now); err != nil {
			d.log.Warn("finalize (permanent) failed",
				slog.String("id", m.ID), slog.String("error", err.Error()))
			return
		}
		d.log.Warn("provider permanently rejected outbound",
			slog.String("id", m.ID),
			slog.String("to", logger.MaskPhone(m.To)),
			slog.String("error", o.Err.Error()))
	}
}

func (d *Dispatcher) afterSend(ctx context.Context, m Message, providerID string) {
	if d.convlog != nil {
		if err := d.convlog.LogOutbound(ctx, m.TenantID, "", m.To, m.Body, providerID); err != nil {
			d.log.Warn("conversation log write failed",
				slog.String("id", m.ID), slog.String("error", err.Error()))
		}
	}
	if d.leads == nil {
		return
	}
	lead, err := d.leads.GetByPhone(ctx, m.TenantID, m.To)
	if err != nil {
		return // operator/admin recipients have no lead row
	}
	if lead.Status == leads.StatusNew {
		if err := d.leads.SetStatus(ctx, lead.ID, leads.StatusContacted, false); err != nil {
			d.log.Warn("lead advance failed",
				slog.String("lead_id", lead.ID), slog.String("error", err.Error()))
		}
	}
}
