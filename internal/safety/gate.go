// Package safety is the single authorization point for outbound SMS. Every
// draft passes through the gate at enqueue time and again at dispatch time,
// because opt-out can race the queue.
package safety

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"

	"leadline/internal/consent"
	"leadline/internal/hours"
	"leadline/internal/leads"
	"leadline/internal/tenants"
	"leadline/pkg/logger"
)

type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonOptOut        RejectReason = "opt_out"
	ReasonNoConsent     RejectReason = "no_consent"
	ReasonInvalidTenant RejectReason = "invalid_tenant"
	ReasonInvalidNumber RejectReason = "invalid_number"
	ReasonQuietHours    RejectReason = "quiet_hours"
)

// Draft is an outbound message awaiting authorization.
type Draft struct {
	TenantID string
	To       string
	Body     string
	// Internal marks operator/admin traffic; it bypasses the compliance
	// footer and quiet hours but never opt-out.
	Internal bool
	// EmergencyResponse exempts a customer-facing message from quiet hours.
	EmergencyResponse bool
}

type Decision struct {
	Allowed bool
	Reason  RejectReason
	// Deferred means the message may not go out right now (quiet hours) but
	// must stay queued rather than be dropped.
	Deferred bool
	// Body is the authorized text, possibly with the compliance footer
	// appended.
	Body string
}

const complianceFooter = "\n\nReply STOP to unsubscribe."

var e164 = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)

var urlShorteners = []string{
	"bit.ly", "tinyurl.com", "goo.gl", "t.co", "is.gd", "buff.ly",
}

type Gate struct {
	optOut  *OptOutCache
	leads   leads.Repository
	tenants tenants.Repository
	consent consent.Ledger
	clock   hours.Clock
	admin   string
	log     *slog.Logger
}

func NewGate(
	cache *OptOutCache,
	leadRepo leads.Repository,
	tenantRepo tenants.Repository,
	ledger consent.Ledger,
	clock hours.Clock,
	adminPhone string,
	log *slog.Logger,
) *Gate {
	if cache == nil {
		cache = NewOptOutCache()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		optOut:  cache,
		leads:   leadRepo,
		tenants: tenantRepo,
		consent: ledger,
		clock:   clock,
		admin:   adminPhone,
		log:     log,
	}
}

func (g *Gate) Cache() *OptOutCache { return g.optOut }

// Authorize checks the draft and returns the (possibly mutated) body to send.
// Rejection order: opt-out, tenant, number shape, consent, quiet hours.
func (g *Gate) Authorize(ctx context.Context, d Draft) Decision {
	if g.optOut.IsOptedOut(d.To) {
		return Decision{Reason: ReasonOptOut}
	}
	if g.leads != nil {
		out, err := g.leads.IsOptedOut(ctx, d.To)
		if err != nil {
			// Store trouble: blocking here would also block opt-out
			// confirmations; enqueue proceeds and dispatch re-checks.
			g.log.Warn("opt-out store check failed",
				slog.String("to", logger.MaskPhone(d.To)),
				slog.String("error", err.Error()))
		} else if out {
			g.optOut.MarkOptedOut(d.To)
			return Decision{Reason: ReasonOptOut}
		}
	}

	tenant, err := g.tenants.GetByID(ctx, d.TenantID)
	if err != nil {
		if errors.Is(err, tenants.ErrNotFound) {
			return Decision{Reason: ReasonInvalidTenant}
		}
		g.log.Warn("tenant lookup failed in safety gate",
			slog.String("tenant_id", d.TenantID),
			slog.String("error", err.Error()))
		return Decision{Reason: ReasonInvalidTenant}
	}

	if !e164.MatchString(d.To) {
		return Decision{Reason: ReasonInvalidNumber}
	}

	internal := d.Internal || d.To == tenant.OperatorNumber || (g.admin != "" && d.To == g.admin)

	if !internal && g.consent != nil {
		ok, err := g.consent.HasConsent(ctx, d.To, g.clock.Now())
		if err != nil {
			g.log.Warn("consent check failed",
				slog.String("to", logger.MaskPhone(d.To)),
				slog.String("error", err.Error()))
		} else if !ok {
			return Decision{Reason: ReasonNoConsent}
		}
	}

	body := d.Body
	if !internal && !hasOptOutToken(body) {
		body += complianceFooter
	}

	if host := containedShortener(body); host != "" {
		g.log.Warn("outbound body contains a URL shortener; carriers may filter it",
			slog.String("tenant_id", d.TenantID),
			slog.String("shortener", host))
	}

	if !internal && !d.EmergencyResponse && g.clock.InQuietHours(tenant) {
		return Decision{Allowed: true, Deferred: true, Reason: ReasonQuietHours, Body: body}
	}

	return Decision{Allowed: true, Body: body}
}

func hasOptOutToken(body string) bool {
	return strings.Contains(strings.ToLower(body), "stop")
}

func containedShortener(body string) string {
	lower := strings.ToLower(body)
	for _, host := range urlShorteners {
		if strings.Contains(lower, host) {
			return host
		}
	}
	return ""
}
