package sms

import (
	"context"
	"fmt"
	"log/slog"

	"leadline/internal/alerts"
	"leadline/internal/consent"
	"leadline/internal/convlog"
	"leadline/internal/hours"
	"leadline/internal/jobs"
	"leadline/internal/leads"
	"leadline/internal/nudge"
	"leadline/internal/outbound"
	"leadline/internal/ratelimit"
	"leadline/internal/safety"
	"leadline/internal/tenants"
	"leadline/internal/webhooks"
	"leadline/pkg/logger"
)

const (
	stopConfirmation = "You have been unsubscribed and will receive no further messages."
	helpTemplate     = "%s: Text us anytime for service. Call for emergencies. Reply STOP to unsubscribe."
	reviewTemplate   = "%s: That's music to our ears! It would help us SO much if you could leave that on Google: %s\n\nThanks again!"
	apologyTemplate  = "%s: I am so sorry to hear that. I have just alerted the owner directly, and he will be calling you shortly to make this right."
	emergencyAckTmpl = "%s: Understood. I have flagged this as an EMERGENCY. I am paging the on-call plumber right now. Please hold tight."
	standardAckTmpl  = "Thanks! I've sent your details to %s. We will get back to you shortly with a quote."
)

type Event struct {
	From       string
	To         string
	Body       string
	MessageSid string
	SmsStatus  string
}

// Result carries the inline reply (empty means bare markup) and whether the
// raw event must be deferred for replay.
type Result struct {
	Reply string
	Defer bool
}

type RouterConfig struct {
	Tenants    tenants.Repository
	Leads      leads.Repository
	Consent    consent.Ledger
	Convlog    *convlog.Service
	Queue      *outbound.Queue
	Debouncer  *alerts.Debouncer
	Nudges     *nudge.Scheduler
	Guard      *webhooks.Guard
	Limiter    ratelimit.Limiter
	OptOuts    *safety.OptOutCache
	Jobs       *jobs.Runner
	Clock      hours.Clock
	KillSwitch bool
	Log        *slog.Logger
}

type Router struct {
	cfg   RouterConfig
	clock hours.Clock
	log   *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Router{cfg: cfg, clock: cfg.Clock, log: cfg.Log}
}

// Process is the /sms entry point.
func (r *Router) Process(ctx context.Context, ev Event) Result {
	if r.cfg.KillSwitch {
		r.log.Warn("kill switch active, rejecting incoming sms")
		return Result{}
	}

	cls := Classify(ev.Body, ev.SmsStatus)
	if cls.Kind == KindStatusEcho {
		r.log.Info("ignoring delivery-status echo",
			slog.String("status", cls.Keyword),
			slog.String("sid", ev.MessageSid))
		return Result{}
	}

	if ev.From == "" || ev.To == "" || ev.MessageSid == "" {
		r.log.Error("invalid sms webhook",
			slog.String("from", logger.MaskPhone(ev.From)),
			slog.String("sid", ev.MessageSid))
		return Result{}
	}

	check := r.cfg.Guard.Check(ctx, ev.MessageSid, "sms", "", ev.MessageSid)
	switch check.Status {
	case webhooks.StatusDuplicate:
		return Result{}
	case webhooks.StatusUnknown:
		return Result{Defer: true}
	}

	tenant, err := r.cfg.Tenants.GetByInboundNumber(ctx, ev.To)
	if err != nil {
		r.log.Error("tenant resolution failed for inbound sms",
			slog.String("to", ev.To), slog.String("sid", ev.MessageSid))
		return Result{}
	}

	if r.cfg.Limiter != nil && !r.cfg.Limiter.Allow(ctx, tenant.ID) {
		r.log.Warn("tenant rate limit exceeded, dropping inbound sms",
			slog.String("tenant_id", tenant.ID))
		return Result{}
	}

	r.log.Info("incoming sms",
		slog.String("from", logger.MaskPhone(ev.From)),
		slog.String("tenant_id", tenant.ID),
		slog.String("kind", string(cls.Kind)))

	switch cls.Kind {
	case KindStop:
		return r.processStop(ctx, tenant, ev, cls.Keyword)
	case KindAutoReply:
		// Another robot. Log it and stay silent.
		r.logInbound(ctx, tenant, ev, "(Auto-Reply) "+ev.Body)
		return Result{}
	}

	lead := r.recordReply(ctx, tenant, ev)

	switch cls.Kind {
	case KindHelp:
		return Result{Reply: fmt.Sprintf(helpTemplate, tenant.DisplayName)}
	case KindStart:
		r.processStart(ctx, tenant, ev)
		return Result{}
	}

	if !tenant.AIActive {
		r.forwardRaw(ctx, tenant, ev)
		return Result{}
	}

	switch cls.Kind {
	case KindPositive:
		r.processPositive(ctx, tenant, ev)
	case KindNegative:
		r.processNegative(ctx, tenant, ev)
	case KindEmergency:
		r.processEmergency(ctx, tenant, lead, ev)
	default:
		r.processStandard(ctx, tenant, lead, ev)
	}
	return Result{}
}

// processStop sets the permanent opt-out before anything else is written.
// The confirmation rides the webhook reply rather than the queue: by the time
// an enqueue could run, the safety gate would already reject this recipient.
func (r *Router) processStop(ctx context.Context, tenant tenants.Tenant, ev Event, keyword string) Result {
	r.log.Warn("stop keyword received",
		slog.String("from", logger.MaskPhone(ev.From)),
		slog.String("keyword", keyword))

	now := r.clock.Now().UTC()
	if _, err := r.cfg.Leads.Upsert(ctx, tenant.ID, ev.From, now); err != nil {
		r.log.Error("lead upsert failed during stop", slog.String("error", err.Error()))
	}
	if err := r.cfg.Leads.MarkOptOut(ctx, tenant.ID, ev.From); err != nil {
		r.log.Error("opt-out write failed", slog.String("error", err.Error()))
	}
	if r.cfg.OptOuts != nil {
		r.cfg.OptOuts.MarkOptedOut(ev.From)
	}
	if err := r.cfg.Consent.RevokeAll(ctx, ev.From, "STOP keyword: "+keyword, now); err != nil {
		r.log.Error("consent revocation failed", slog.String("error", err.Error()))
	}
	r.logInbound(ctx, tenant, ev, ev.Body)
	if n, err := r.cfg.Queue.Cancel(ctx, nudge.Key(ev.From)+"%"); err == nil && n > 0 {
		r.log.Info("pending nudge cancelled by stop", slog.Int64("rows", n))
	}
	return Result{Reply: stopConfirmation}
}

func (r *Router) processStart(ctx context.Context, tenant tenants.Tenant, ev Event) {
	if err := r.cfg.Leads.ClearOptOut(ctx, tenant.ID, ev.From); err != nil {
		r.log.Error("opt-out clear failed", slog.String("error", err.Error()))
		return
	}
	if r.cfg.OptOuts != nil {
		r.cfg.OptOuts.Clear(ev.From)
	}
	lead, err := r.cfg.Leads.GetByPhone(ctx, tenant.ID, ev.From)
	if err != nil {
		r.log.Warn("lead missing after opt-out clear", slog.String("error", err.Error()))
		return
	}
	if _, err := r.cfg.Consent.RecordExpress(ctx, tenant.ID, lead.ID, ev.From,
		consent.SourceInboundSMS, r.clock.Now().UTC()); err != nil {
		r.log.Error("express consent record failed", slog.String("error", err.Error()))
	}
}

// recordReply is the shared bookkeeping for every processed non-STOP text:
// conversation log, implied consent, lead to replied, nudge cancelled.
func (r *Router) recordReply(ctx context.Context, tenant tenants.Tenant, ev Event) leads.Lead {
	now := r.clock.Now().UTC()
	lead, err := r.cfg.Leads.Upsert(ctx, tenant.ID, ev.From, now)
	if err != nil {
		r.log.Error("lead upsert failed", slog.String("error", err.Error()))
		return leads.Lead{}
	}
	r.logInbound(ctx, tenant, ev, ev.Body)
	if _, err := r.cfg.Consent.RecordImplied(ctx, tenant.ID, lead.ID, ev.From,
		consent.SourceInboundSMS, now); err != nil {
		r.log.Warn("implied consent record failed", slog.String("error", err.Error()))
	}
	if lead.Status != leads.StatusBooked {
		if err := r.cfg.Leads.SetStatus(ctx, lead.ID, leads.StatusReplied, false); err != nil {
			r.log.Warn("lead status update failed", slog.String("error", err.Error()))
		}
	}
	if r.cfg.Nudges != nil {
		if err := r.cfg.Nudges.Cancel(ctx, ev.From); err != nil {
			r.log.Warn("nudge cancel failed", slog.String("error", err.Error()))
		}
	}
	return lead
}

func (r *Router) forwardRaw(ctx context.Context, tenant tenants.Tenant, ev Event) {
	r.log.Warn("ai inactive, forwarding sms raw", slog.String("tenant_id", tenant.ID))
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         tenant.OperatorNumber,
		Body:       fmt.Sprintf("Message from %s:\n%s", ev.From, ev.Body),
		ExternalID: "fwd_" + ev.MessageSid,
		Internal:   true,
	})
	r.appendSheet(ctx, tenant, ev, "passthrough", "manual")
}

func (r *Router) processPositive(ctx context.Context, tenant tenants.Tenant, ev Event) {
	if tenant.ReviewLink == "" {
		return
	}
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         ev.From,
		Body:       fmt.Sprintf(reviewTemplate, tenant.DisplayName, tenant.ReviewLink),
		ExternalID: ev.MessageSid + "_review_link",
	})
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         tenant.OperatorNumber,
		Body:       fmt.Sprintf("⭐ 5-STAR POTENTIAL: %s said '%s'. I sent them the link.", ev.From, ev.Body),
		ExternalID: ev.MessageSid + "_review_note",
		Internal:   true,
	})
}

func (r *Router) processNegative(ctx context.Context, tenant tenants.Tenant, ev Event) {
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         ev.From,
		Body:       fmt.Sprintf(apologyTemplate, tenant.DisplayName),
		ExternalID: ev.MessageSid + "_apology",
	})
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         tenant.OperatorNumber,
		Body:       fmt.Sprintf("🚨 NEGATIVE FEEDBACK: Customer says '%s'.\n\nCall Now:\n%s", ev.Body, ev.From),
		ExternalID: ev.MessageSid + "_negative_alert",
		Internal:   true,
	})
}

// processEmergency acknowledges the customer with a quiet-hours-exempt send
// and alerts the operator directly, bypassing the debounce buffer.
func (r *Router) processEmergency(ctx context.Context, tenant tenants.Tenant, lead leads.Lead, ev Event) {
	if lead.ID != "" {
		if err := r.cfg.Leads.SetIntent(ctx, lead.ID, leads.IntentEmergency); err != nil {
			r.log.Warn("lead intent update failed", slog.String("error", err.Error()))
		}
	}
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         ev.From,
		Body:       fmt.Sprintf(emergencyAckTmpl, tenant.DisplayName),
		ExternalID: ev.MessageSid + "_emerg_ack",
		Emergency:  true,
	})
	name := lead.Name
	if name == "" {
		name = "New Customer"
	}
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         tenant.OperatorNumber,
		Body:       fmt.Sprintf("🚨 EMERGENCY LEADS: %s says: '%s'\n\nTap to Dial:\n%s", name, ev.Body, ev.From),
		ExternalID: ev.MessageSid + "_boss_alert",
		Internal:   true,
	})
	r.appendSheet(ctx, tenant, ev, "emergency", "emergency")
}

// processStandard buffers the operator alert and acknowledges the customer.
func (r *Router) processStandard(ctx context.Context, tenant tenants.Tenant, lead leads.Lead, ev Event) {
	name := lead.Name
	if name == "" {
		name = "New Customer"
	}
	alert := fmt.Sprintf("🔔 STANDARD SERVICE: Msg - '%s'\nFrom: %s\n\nCall Now:\n%s", ev.Body, name, ev.From)
	if r.cfg.Debouncer != nil {
		if err := r.cfg.Debouncer.Buffer(ctx, tenant.ID, ev.From, tenant.OperatorNumber, alert); err != nil {
			r.log.Error("alert buffer failed, sending immediately", slog.String("error", err.Error()))
			r.enqueue(ctx, tenant, outbound.EnqueueRequest{
				TenantID:   tenant.ID,
				To:         tenant.OperatorNumber,
				Body:       alert,
				ExternalID: ev.MessageSid + "_copy",
				Internal:   true,
			})
		}
	}
	r.enqueue(ctx, tenant, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         ev.From,
		Body:       fmt.Sprintf(standardAckTmpl, tenant.DisplayName),
		ExternalID: ev.MessageSid + "_ack",
	})
	r.appendSheet(ctx, tenant, ev, "inquiry", "new")
}

func (r *Router) enqueue(ctx context.Context, tenant tenants.Tenant, req outbound.EnqueueRequest) {
	res, err := r.cfg.Queue.Enqueue(ctx, req)
	if err != nil {
		r.log.Error("enqueue failed",
			slog.String("tenant_id", tenant.ID),
			slog.String("error", err.Error()))
		return
	}
	if res.Outcome == outbound.OutcomeRejected {
		r.log.Info("enqueue rejected",
			slog.String("tenant_id", tenant.ID),
			slog.String("reason", string(res.Reason)))
	}
}

func (r *Router) logInbound(ctx context.Context, tenant tenants.Tenant, ev Event, body string) {
	if r.cfg.Convlog == nil {
		return
	}
	leadID := ""
	if lead, err := r.cfg.Leads.GetByPhone(ctx, tenant.ID, ev.From); err == nil {
		leadID = lead.ID
	}
	if err := r.cfg.Convlog.LogInbound(ctx, tenant.ID, leadID, ev.From, body, ev.MessageSid); err != nil {
		r.log.Warn("conversation log failed", slog.String("error", err.Error()))
	}
}

func (r *Router) appendSheet(ctx context.Context, tenant tenants.Tenant, ev Event, intent, status string) {
	if r.cfg.Jobs == nil || tenant.SheetID == "" {
		return
	}
	r.cfg.Jobs.Submit(jobs.SheetAppend{
		SheetID: tenant.SheetID,
		Row:     []string{ev.From, ev.Body, intent, status},
	})
}
