package compliance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"leadline/internal/consent"
	"leadline/internal/leads"
	"leadline/internal/safety"
	"leadline/internal/tenants"
)

const (
	testSecret = "unsubscribe-secret"
	testPhone  = "+14155550111"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := Token(testSecret, testPhone)
	if tok == "" {
		t.Fatal("empty token")
	}
	if !VerifyToken(testSecret, testPhone, tok) {
		t.Error("valid token rejected")
	}
	if VerifyToken(testSecret, "+14155550999", tok) {
		t.Error("token accepted for a different phone")
	}
	if VerifyToken("other-secret", testPhone, tok) {
		t.Error("token accepted under a different secret")
	}
	if VerifyToken(testSecret, testPhone, "zz-not-hex") {
		t.Error("malformed token accepted")
	}
}

type fixture struct {
	svc      *Service
	handlers *Handlers
	leadRepo *leads.MemoryRepo
	ledger   *consent.MemoryLedger
	optOuts  *safety.OptOutCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)

	tenantRepo := tenants.NewMemoryRepo()
	for _, id := range []string{"tenant-a", "tenant-b"} {
		if err := tenantRepo.Create(context.Background(), tenants.Tenant{
			ID:            id,
			InboundNumber: "+1500555" + id[len(id)-1:] + "000",
			DisplayName:   "Shop " + id,
			Timezone:      "America/New_York",
			CreatedAt:     now,
		}); err != nil {
			t.Fatalf("seed tenant: %v", err)
		}
	}

	leadRepo := leads.NewMemoryRepo()
	if _, err := leadRepo.Upsert(context.Background(), "tenant-a", testPhone, now); err != nil {
		t.Fatalf("seed lead: %v", err)
	}

	ledger := consent.NewMemoryLedger()
	if _, err := ledger.RecordImplied(context.Background(), "tenant-a", "lead1", testPhone, consent.SourceInboundSMS, now); err != nil {
		t.Fatalf("seed consent: %v", err)
	}

	optOuts := safety.NewOptOutCache()
	svc := NewService(testSecret, tenantRepo, leadRepo, ledger, optOuts, nil)
	svc.clock = func() time.Time { return now }
	return &fixture{
		svc:      svc,
		handlers: NewHandlers(svc),
		leadRepo: leadRepo,
		ledger:   ledger,
		optOuts:  optOuts,
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	f.handlers.Register(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestUnsubscribeLinkOptsOutEverywhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := f.get(t, f.svc.Link(testPhone))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d, body %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<h1>Unsubscribed</h1>") {
		t.Errorf("body = %q, want confirmation page", w.Body.String())
	}

	out, err := f.leadRepo.IsOptedOut(ctx, testPhone)
	if err != nil || !out {
		t.Errorf("IsOptedOut = %v, %v, want true", out, err)
	}
	if !f.optOuts.IsOptedOut(testPhone) {
		t.Error("cache not marked")
	}
	ok, err := f.ledger.HasConsent(ctx, testPhone, time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC))
	if err != nil || ok {
		t.Errorf("HasConsent after unsubscribe = %v, %v, want false", ok, err)
	}
}

func TestUnsubscribeRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	w := f.get(t, "/unsubscribe?phone="+testPhone+"&token="+Token("wrong", testPhone))
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", w.Code)
	}
	if out, _ := f.leadRepo.IsOptedOut(context.Background(), testPhone); out {
		t.Error("opt-out set despite invalid token")
	}
}

func TestUnsubscribeRequiresBothParams(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/unsubscribe", "/unsubscribe?phone=" + testPhone, "/unsubscribe?token=abc"} {
		if w := f.get(t, path); w.Code != http.StatusBadRequest {
			t.Errorf("%s: code = %d, want 400", path, w.Code)
		}
	}
}
