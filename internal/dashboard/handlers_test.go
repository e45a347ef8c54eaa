package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"leadline/internal/auth"
	"leadline/internal/convlog"
	"leadline/internal/leads"
	"leadline/internal/rbac"
	"leadline/internal/tenants"
)

const testTenant = "tenant1"

type fixture struct {
	engine     *gin.Engine
	tenantRepo *tenants.MemoryRepo
	leadRepo   *leads.MemoryRepo
}

func newFixture(t *testing.T, role string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	now := time.Date(2026, 6, 1, 17, 0, 0, 0, time.UTC)
	ctx := context.Background()

	tenantRepo := tenants.NewMemoryRepo()
	if err := tenantRepo.Create(ctx, tenants.Tenant{
		ID:              testTenant,
		InboundNumber:   "+15005550000",
		OperatorNumber:  "+15005550123",
		DisplayName:     "Ace Plumbing",
		Timezone:        "America/New_York",
		AverageJobValue: 450,
		AIActive:        true,
		CreatedAt:       now,
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	leadRepo := leads.NewMemoryRepo()
	for i, phone := range []string{"+14155550111", "+14155550222", "+14155550333"} {
		l, err := leadRepo.Upsert(ctx, testTenant, phone, now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("seed lead: %v", err)
		}
		if i == 0 {
			if err := leadRepo.SetIntent(ctx, l.ID, leads.IntentEmergency); err != nil {
				t.Fatalf("set intent: %v", err)
			}
		}
	}

	logSvc := convlog.NewService(convlog.NewMemoryRepo())
	if err := logSvc.LogInbound(ctx, testTenant, "lead1", "+14155550111", "my sink is leaking", "SM1"); err != nil {
		t.Fatalf("seed convlog: %v", err)
	}

	h := &Handlers{
		Tenants: tenantRepo,
		Leads:   leadRepo,
		Convlog: logSvc,
		Health:  Health{KillSwitch: false, TelephonyConfigured: true},
	}

	r := gin.New()
	h.RegisterPublic(r)

	identity := func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "user1", testTenant, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
	api := r.Group("/api", identity, rbac.RequireTenant())
	h.Register(api)
	admin := api.Group("", rbac.RequireAnyRole(rbac.RoleAdmin))
	h.RegisterAdmin(admin)

	return &fixture{engine: r, tenantRepo: tenantRepo, leadRepo: leadRepo}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodGet, "/health", "")
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	got := decode(t, w)
	if got["status"] != "ok" {
		t.Errorf("status = %v", got["status"])
	}
	if got["kill_switch"] != false || got["telephony_configured"] != true {
		t.Errorf("flags = %v / %v", got["kill_switch"], got["telephony_configured"])
	}
}

func TestActivityReturnsRecentEntries(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodGet, "/api/activity", "")
	if w.Code != 200 {
		t.Fatalf("code = %d, body %s", w.Code, w.Body.String())
	}
	got := decode(t, w)
	entries, ok := got["entries"].([]any)
	if !ok || len(entries) != 1 {
		t.Fatalf("entries = %v", got["entries"])
	}
}

func TestFunnelCountsByStatus(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodGet, "/api/funnel", "")
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	got := decode(t, w)
	counts, ok := got["counts"].(map[string]any)
	if !ok {
		t.Fatalf("counts = %v", got["counts"])
	}
	if counts[string(leads.StatusNew)] != float64(3) {
		t.Errorf("new count = %v, want 3", counts[string(leads.StatusNew)])
	}
}

func TestRevenueMultipliesEmergenciesByJobValue(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodGet, "/api/revenue", "")
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	got := decode(t, w)
	if got["emergency_leads"] != float64(1) {
		t.Errorf("emergency_leads = %v, want 1", got["emergency_leads"])
	}
	if got["estimated_revenue"] != float64(450) {
		t.Errorf("estimated_revenue = %v, want 450", got["estimated_revenue"])
	}
}

func TestLeadListMasksPhones(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodGet, "/api/leads", "")
	if w.Code != 200 {
		t.Fatalf("code = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "+14155550111") {
		t.Errorf("raw phone leaked: %s", w.Body.String())
	}
	got := decode(t, w)
	rows, ok := got["leads"].([]any)
	if !ok || len(rows) != 3 {
		t.Fatalf("leads = %v", got["leads"])
	}
}

func TestSetAIActiveRequiresAdmin(t *testing.T) {
	f := newFixture(t, rbac.RoleOperator)
	w := f.do(t, http.MethodPost, "/api/settings/ai", `{"active":false}`)
	if w.Code != 403 {
		t.Fatalf("code = %d, want 403 for operator", w.Code)
	}
}

func TestSetAIActiveToggles(t *testing.T) {
	f := newFixture(t, rbac.RoleAdmin)
	w := f.do(t, http.MethodPost, "/api/settings/ai", `{"active":false}`)
	if w.Code != 200 {
		t.Fatalf("code = %d, body %s", w.Code, w.Body.String())
	}
	got, err := f.tenantRepo.GetByID(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	if got.AIActive {
		t.Error("ai_active still true after toggle")
	}
}

func TestSetAIActiveRejectsMissingField(t *testing.T) {
	f := newFixture(t, rbac.RoleAdmin)
	w := f.do(t, http.MethodPost, "/api/settings/ai", `{}`)
	if w.Code != 400 {
		t.Fatalf("code = %d, want 400", w.Code)
	}
}
