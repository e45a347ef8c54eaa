// Package compliance implements the one-click unsubscribe surface: signed
// per-phone links that set the opt-out flag without requiring an SMS reply.
package compliance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/url"
	"time"

	"leadline/internal/consent"
	"leadline/internal/leads"
	"leadline/internal/safety"
	"leadline/internal/tenants"
	"leadline/pkg/logger"
)

// Token signs a phone number for unsubscribe links. The token is bound to the
// phone only; links do not expire, an unsubscribe must always work.
func Token(secret, phone string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(phone))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken is constant-time; unsubscribe tokens arrive from untrusted links.
func VerifyToken(secret, phone, token string) bool {
	got, err := hex.DecodeString(token)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(phone))
	return hmac.Equal(got, mac.Sum(nil))
}

// Service applies an unsubscribe across every tenant: the number is blocked
// everywhere, matching the send gate's cross-tenant opt-out check.
type Service struct {
	secret  string
	tenants tenants.Repository
	leads   leads.Repository
	consent consent.Ledger
	optOuts *safety.OptOutCache
	clock   func() time.Time
	log     *slog.Logger
}

func NewService(
	secret string,
	tenantRepo tenants.Repository,
	leadRepo leads.Repository,
	ledger consent.Ledger,
	optOuts *safety.OptOutCache,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		secret:  secret,
		tenants: tenantRepo,
		leads:   leadRepo,
		consent: ledger,
		optOuts: optOuts,
		clock:   func() time.Time { return time.Now().UTC() },
		log:     log,
	}
}

// Link returns the unsubscribe URL path for a phone, for embedding in
// outbound footers. E.164 numbers need escaping or the leading + decodes as
// a space.
func (s *Service) Link(phone string) string {
	q := url.Values{}
	q.Set("phone", phone)
	q.Set("token", Token(s.secret, phone))
	return "/unsubscribe?" + q.Encode()
}

func (s *Service) Verify(phone, token string) bool {
	return VerifyToken(s.secret, phone, token)
}

// Unsubscribe marks the phone opted out on every tenant that knows it and
// revokes all consent. Per-tenant update failures are logged, not fatal: the
// cache mark below still blocks sends immediately.
func (s *Service) Unsubscribe(ctx context.Context, phone string) error {
	now := s.clock()

	all, err := s.tenants.List(ctx)
	if err != nil {
		return err
	}
	for _, t := range all {
		if err := s.leads.MarkOptOut(ctx, t.ID, phone); err != nil {
			s.log.Warn("opt-out flag update failed",
				"tenant", t.ID, "phone", logger.MaskPhone(phone), "err", err)
		}
	}

	if err := s.consent.RevokeAll(ctx, phone, "One-Click Link", now); err != nil {
		s.log.Warn("consent revoke failed", "phone", logger.MaskPhone(phone), "err", err)
	}
	s.optOuts.MarkOptedOut(phone)

	s.log.Info("one-click unsubscribe", "phone", logger.MaskPhone(phone))
	return nil
}
