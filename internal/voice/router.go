package voice

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"leadline/internal/consent"
	"leadline/internal/convlog"
	"leadline/internal/hours"
	"leadline/internal/jobs"
	"leadline/internal/leads"
	"leadline/internal/nudge"
	"leadline/internal/outbound"
	"leadline/internal/ratelimit"
	"leadline/internal/telephony"
	"leadline/internal/tenants"
	"leadline/internal/webhooks"
	"leadline/pkg/logger"
)

// Disposition is the outcome of a dial attempt, folded from the provider's
// DialCallStatus and AnsweredBy fields.
type Disposition string

const (
	DispositionAnswered Disposition = "answered"
	DispositionNoAnswer Disposition = "no_answer"
	DispositionBusy     Disposition = "busy"
	DispositionFailed   Disposition = "failed"
	DispositionCanceled Disposition = "canceled"
	DispositionMachine  Disposition = "machine"
)

// ParseDisposition folds the callback fields into one outcome. A human
// answer wins regardless of status; machine detection downgrades a
// "completed" dial to a miss.
func ParseDisposition(dialCallStatus, answeredBy string) Disposition {
	if answeredBy == "human" {
		return DispositionAnswered
	}
	switch answeredBy {
	case "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other", "fax":
		return DispositionMachine
	}
	switch dialCallStatus {
	case "completed", "answered":
		return DispositionAnswered
	case "busy":
		return DispositionBusy
	case "failed":
		return DispositionFailed
	case "canceled":
		return DispositionCanceled
	default:
		return DispositionNoAnswer
	}
}

// Missed reports whether this outcome triggers the missed-call branch.
func (d Disposition) Missed() bool { return d != DispositionAnswered }

// Rotated for deliverability: carriers throttle identical bodies sent at
// volume from one number.
var missedCallTemplates = []string{
	"Hi, this is %s's automated assistant. We missed your call! Are you looking for emergency service or a standard quote?\nReply STOP to unsubscribe.",
	"Hello! This is %s's assistant. Sorry we missed you. Do you need emergency plumbing help or just a standard quote?\nReply STOP to unsubscribe.",
	"Hi there from %s! We're busy helping another client. Are you needing emergency service right now or a standard quote?\nReply STOP to unsubscribe.",
	"Thanks for calling %s. Our team is currently on a job. Are you looking for an emergency tech or a standard service quote?\nReply STOP to unsubscribe.",
}

const (
	maintenanceSpeech = "System is currently under maintenance. Please try again later."
	systemErrorSpeech = "System error. Please try again later."
	configErrorSpeech = "System Configuration Error. Please contact support."
	busySpeech        = "Busy. Please try again later."
	checkTextsSpeech  = "Thank you. Please check your text messages."
	connectingSpeech  = "Connecting you to the plumber now. Please hold."

	afterHoursMobileSpeech = "Hi, you've reached %s. We're currently assisting another customer. I'm sending you a text right now so we can prioritize your request. Please check your mobile."
	afterHoursGatherSpeech = "Hi, you've reached %s. We're currently assisting another customer. I'm sending you a text right now so we can prioritize your request. Please check your mobile. If this is an emergency, press 1 to reach our on-call tech."
	landlineSpeech         = "Hi, you've reached %s. Since you are calling from a landline, please leave a message after the beep and we'll call you back shortly."
)

const (
	voicemailMaxSeconds = 60
	dialTimeoutSeconds  = 15
	gatherTimeoutSecs   = 5
)

type CallEvent struct {
	From    string
	To      string
	CallSid string
	Digits  string
}

type StatusEvent struct {
	CallSid        string
	DialCallStatus string
	AnsweredBy     string
	From           string
	To             string
}

type VoicemailEvent struct {
	CallSid      string
	From         string
	To           string
	RecordingURL string
}

// Result carries the markup to return plus whether the raw event must be
// deferred for replay because the idempotency store could not answer.
type Result struct {
	TwiML *Response
	Defer bool
}

// RouterConfig wires the router's collaborators. KillSwitch rejects all
// inbound processing; AdminPhone receives nothing here but keeps alert
// wording consistent with the SMS side.
type RouterConfig struct {
	Tenants    tenants.Repository
	Leads      leads.Repository
	Consent    consent.Ledger
	Convlog    *convlog.Service
	Queue      *outbound.Queue
	Nudges     *nudge.Scheduler
	Guard      *webhooks.Guard
	Limiter    ratelimit.Limiter
	Gateway    telephony.Gateway
	Jobs       *jobs.Runner
	Clock      hours.Clock
	KillSwitch bool
	Log        *slog.Logger
}

type Router struct {
	cfg   RouterConfig
	clock hours.Clock
	// pick selects a missed-call template index; injectable for tests.
	pick func(n int) int
	log  *slog.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Router{cfg: cfg, clock: cfg.Clock, pick: rand.Intn, log: cfg.Log}
}

// HandleCall is the /voice entry point.
func (r *Router) HandleCall(ctx context.Context, ev CallEvent) Result {
	resp := &Response{}

	if r.cfg.KillSwitch {
		r.log.Warn("kill switch active, rejecting incoming call")
		return Result{TwiML: resp.Say(maintenanceSpeech).Hangup()}
	}
	if ev.From == "" || ev.To == "" || ev.CallSid == "" {
		r.log.Error("invalid voice webhook",
			slog.String("from", logger.MaskPhone(ev.From)),
			slog.String("call_sid", ev.CallSid))
		return Result{TwiML: resp.Say(systemErrorSpeech)}
	}

	// Press-1 callbacks re-enter /voice with the same CallSid, so the guard
	// runs only on the first leg.
	if ev.Digits == "" {
		check := r.cfg.Guard.Check(ctx, ev.CallSid, "voice", "", ev.CallSid)
		switch check.Status {
		case webhooks.StatusDuplicate:
			return Result{TwiML: resp.Say(checkTextsSpeech)}
		case webhooks.StatusUnknown:
			return Result{TwiML: resp.Say(checkTextsSpeech), Defer: true}
		}
	}

	tenant, err := r.cfg.Tenants.GetByInboundNumber(ctx, ev.To)
	if err != nil {
		r.log.Error("tenant resolution failed for inbound call",
			slog.String("to", ev.To), slog.String("call_sid", ev.CallSid))
		return Result{TwiML: resp.Say(configErrorSpeech)}
	}

	if !tenant.AIActive {
		r.log.Warn("ai inactive, forwarding call straight through",
			slog.String("tenant_id", tenant.ID))
		return Result{TwiML: resp.Dial(tenant.OperatorNumber, 0, "")}
	}

	if r.cfg.Limiter != nil && !r.cfg.Limiter.Allow(ctx, tenant.ID) {
		return Result{TwiML: resp.Say(busySpeech)}
	}

	if ev.Digits == "1" && tenant.EmergencyMode {
		r.emergencyOverride(ctx, tenant, ev.From)
		return Result{TwiML: resp.Say(connectingSpeech).Dial(tenant.OperatorNumber, 0, "")}
	}

	lineType, callerName := r.lookupCaller(ctx, ev.From)

	r.recordLead(ctx, tenant, ev.From, callerName)

	switch r.clock.Classify(tenant) {
	case hours.Daytime, hours.Evening:
		// Ring through; the dial-status callback owns the missed-call branch.
		return Result{TwiML: resp.Dial(tenant.OperatorNumber, dialTimeoutSeconds, "/voice/status")}
	default:
		return Result{TwiML: r.sleepBranch(ctx, resp, tenant, ev, lineType)}
	}
}

func (r *Router) sleepBranch(ctx context.Context, resp *Response, tenant tenants.Tenant, ev CallEvent, lineType telephony.LineType) *Response {
	if tenant.EmergencyMode {
		resp.GatherDigit("/voice", gatherTimeoutSecs, fmt.Sprintf(afterHoursGatherSpeech, tenant.DisplayName))
		resp.Say(checkTextsSpeech).Hangup()
		// Landlines cannot receive the intake text.
		if lineType != telephony.LineTypeLandline {
			r.missedCallSideEffects(ctx, tenant, ev.From, ev.CallSid, "")
		}
		return resp
	}
	if lineType == telephony.LineTypeLandline {
		resp.Say(fmt.Sprintf(landlineSpeech, tenant.DisplayName))
		resp.Record("/voice/voicemail", voicemailMaxSeconds)
		return resp
	}
	resp.Say(fmt.Sprintf(afterHoursMobileSpeech, tenant.DisplayName)).Hangup()
	r.missedCallSideEffects(ctx, tenant, ev.From, ev.CallSid, "")
	return resp
}

// HandleDialStatus is the /voice/status callback after a business-hours dial.
func (r *Router) HandleDialStatus(ctx context.Context, ev StatusEvent) Result {
	resp := &Response{}

	disp := ParseDisposition(ev.DialCallStatus, ev.AnsweredBy)
	key := webhooks.SubEventKey(ev.CallSid, ev.DialCallStatus)
	check := r.cfg.Guard.Check(ctx, key, "voice_status", "", key)
	switch check.Status {
	case webhooks.StatusDuplicate:
		return Result{TwiML: resp}
	case webhooks.StatusUnknown:
		return Result{TwiML: resp, Defer: true}
	}

	tenant, ok := r.resolveStatusTenant(ctx, ev.To, ev.From)
	if !ok {
		r.log.Error("tenant resolution failed in dial-status callback",
			slog.String("to", ev.To),
			slog.String("from", logger.MaskPhone(ev.From)),
			slog.String("call_sid", ev.CallSid))
		return Result{TwiML: resp}
	}

	if !disp.Missed() {
		return Result{TwiML: resp}
	}

	if disp != DispositionMachine {
		resp.Say(fmt.Sprintf(afterHoursMobileSpeech, tenant.DisplayName))
	}
	resp.Hangup()

	r.recordLead(ctx, tenant, ev.From, "")
	r.missedCallSideEffects(ctx, tenant, ev.From, ev.CallSid, "_missed")
	if r.cfg.Nudges != nil {
		if err := r.cfg.Nudges.Schedule(ctx, tenant, ev.From); err != nil {
			r.log.Warn("nudge schedule failed", slog.String("error", err.Error()))
		}
	}
	return Result{TwiML: resp}
}

// HandleVoicemail is the /voice/voicemail recording callback.
func (r *Router) HandleVoicemail(ctx context.Context, ev VoicemailEvent) Result {
	resp := &Response{}

	key := ev.CallSid + "_voicemail"
	check := r.cfg.Guard.Check(ctx, key, "voicemail", "", key)
	switch check.Status {
	case webhooks.StatusDuplicate:
		return Result{TwiML: resp}
	case webhooks.StatusUnknown:
		return Result{TwiML: resp, Defer: true}
	}

	tenant, err := r.cfg.Tenants.GetByInboundNumber(ctx, ev.To)
	if err != nil {
		r.log.Error("tenant resolution failed for voicemail", slog.String("to", ev.To))
		return Result{TwiML: resp}
	}

	lead, leadErr := r.cfg.Leads.Upsert(ctx, tenant.ID, ev.From, r.clock.Now().UTC())
	if leadErr != nil {
		r.log.Error("lead upsert failed for voicemail", slog.String("error", leadErr.Error()))
	}
	if r.cfg.Convlog != nil {
		if err := r.cfg.Convlog.LogInbound(ctx, tenant.ID, lead.ID, ev.From,
			"(Voicemail) "+ev.RecordingURL, ev.CallSid); err != nil {
			r.log.Warn("voicemail log failed", slog.String("error", err.Error()))
		}
	}
	if leadErr == nil {
		if err := r.cfg.Leads.SetStatus(ctx, lead.ID, leads.StatusReplied, false); err != nil {
			r.log.Warn("lead status update failed", slog.String("error", err.Error()))
		}
	}

	if r.cfg.Jobs != nil && ev.RecordingURL != "" {
		r.cfg.Jobs.Submit(jobs.Transcribe{
			TenantID:     tenant.ID,
			CallID:       ev.CallSid,
			From:         ev.From,
			RecordingURL: ev.RecordingURL,
			Sink:         r.transcriptSink(lead.ID),
		})
	}

	alert := fmt.Sprintf("🎙️ NEW VOICEMAIL: A landline customer left you a message.\nListen: %s\n\nReturn Call:\n%s",
		ev.RecordingURL, ev.From)
	r.enqueueOperatorAlert(ctx, tenant, alert, ev.CallSid+"_vm_alert")

	return Result{TwiML: resp}
}

func (r *Router) transcriptSink(leadID string) func(ctx context.Context, tenantID, callID, from, text string) error {
	return func(ctx context.Context, tenantID, callID, from, text string) error {
		if r.cfg.Convlog == nil {
			return nil
		}
		return r.cfg.Convlog.LogInbound(ctx, tenantID, leadID, from,
			"(Voicemail transcript) "+text, callID+"_transcript")
	}
}

// resolveStatusTenant tries the dialed number, then the caller, then the
// operator number for both: dial-status legs sometimes swap From/To.
func (r *Router) resolveStatusTenant(ctx context.Context, to, from string) (tenants.Tenant, bool) {
	for _, n := range []string{to, from} {
		if t, err := r.cfg.Tenants.GetByInboundNumber(ctx, n); err == nil {
			return t, true
		}
	}
	for _, n := range []string{to, from} {
		if t, err := r.cfg.Tenants.GetByOperatorNumber(ctx, n); err == nil {
			return t, true
		}
	}
	return tenants.Tenant{}, false
}

func (r *Router) emergencyOverride(ctx context.Context, tenant tenants.Tenant, caller string) {
	r.log.Info("emergency override, connecting caller",
		slog.String("tenant_id", tenant.ID),
		slog.String("caller", logger.MaskPhone(caller)))
	lead, err := r.cfg.Leads.Upsert(ctx, tenant.ID, caller, r.clock.Now().UTC())
	if err != nil {
		r.log.Warn("lead upsert failed on emergency override", slog.String("error", err.Error()))
		return
	}
	if err := r.cfg.Leads.SetIntent(ctx, lead.ID, leads.IntentEmergency); err != nil {
		r.log.Warn("lead intent update failed", slog.String("error", err.Error()))
	}
}

// recordLead upserts the lead and appends implied consent; inbound contact is
// itself the consent event.
func (r *Router) recordLead(ctx context.Context, tenant tenants.Tenant, caller, name string) {
	now := r.clock.Now().UTC()
	lead, err := r.cfg.Leads.Upsert(ctx, tenant.ID, caller, now)
	if err != nil {
		r.log.Error("lead upsert failed", slog.String("error", err.Error()))
		return
	}
	if name != "" && lead.Name == "" {
		if err := r.cfg.Leads.SetName(ctx, lead.ID, name); err != nil {
			r.log.Debug("caller name update failed", slog.String("error", err.Error()))
		}
	}
	if _, err := r.cfg.Consent.RecordImplied(ctx, tenant.ID, lead.ID, caller,
		consent.SourceInboundCall, now); err != nil {
		r.log.Warn("implied consent record failed", slog.String("error", err.Error()))
	}
}

// missedCallSideEffects queues the caller text and the operator alert. The
// idempotency keys are derived from the call sid, so a replayed webhook that
// slipped past the guard still cannot double-send.
func (r *Router) missedCallSideEffects(ctx context.Context, tenant tenants.Tenant, caller, callSid, suffix string) {
	body := fmt.Sprintf(missedCallTemplates[r.pick(len(missedCallTemplates))], tenant.DisplayName)
	res, err := r.cfg.Queue.Enqueue(ctx, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         caller,
		Body:       body,
		ExternalID: callSid + suffix,
	})
	if err != nil {
		r.log.Error("missed-call sms enqueue failed", slog.String("error", err.Error()))
	} else if res.Outcome == outbound.OutcomeRejected {
		r.log.Info("missed-call sms rejected",
			slog.String("reason", string(res.Reason)),
			slog.String("caller", logger.MaskPhone(caller)))
	}

	alert := fmt.Sprintf("🔔 (%s) Missed Call: I've texted the customer to start the intake.\n\nReturn Call:\n%s",
		tenant.DisplayName, caller)
	r.enqueueOperatorAlert(ctx, tenant, alert, callSid+suffix+"_alert")

	if r.cfg.Jobs != nil && tenant.SheetID != "" {
		r.cfg.Jobs.Submit(jobs.SheetAppend{
			SheetID: tenant.SheetID,
			Row:     []string{caller, "(Missed Call)", "inquiry", "new"},
		})
	}
}

func (r *Router) enqueueOperatorAlert(ctx context.Context, tenant tenants.Tenant, body, externalID string) {
	if _, err := r.cfg.Queue.Enqueue(ctx, outbound.EnqueueRequest{
		TenantID:   tenant.ID,
		To:         tenant.OperatorNumber,
		Body:       body,
		ExternalID: externalID,
		Internal:   true,
	}); err != nil {
		r.log.Error("operator alert enqueue failed", slog.String("error", err.Error()))
	}
}

func (r *Router) lookupCaller(ctx context.Context, caller string) (telephony.LineType, string) {
	if r.cfg.Gateway == nil {
		return telephony.LineTypeMobile, ""
	}
	res, err := r.cfg.Gateway.Lookup(ctx, caller)
	if err != nil {
		// Assume mobile so the caller still gets the text fallback.
		r.log.Warn("line-type lookup failed, assuming mobile",
			slog.String("caller", logger.MaskPhone(caller)),
			slog.String("error", err.Error()))
		return telephony.LineTypeMobile, ""
	}
	if res.LineType == telephony.LineTypeUnknown {
		return telephony.LineTypeMobile, res.CallerName
	}
	return res.LineType, res.CallerName
}
