// Package dashboard exposes the operator-facing read API: recent activity,
// funnel counts, a revenue estimate, and the single ai_active toggle. Keep
// these thin: resolve the tenant from the token, call a repository, return
// JSON.
package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"leadline/internal/auth"
	"leadline/internal/convlog"
	"leadline/internal/leads"
	"leadline/internal/tenants"
	"leadline/pkg/logger"
)

const (
	defaultActivityLimit = 50
	defaultLeadLimit     = 100
	maxListLimit         = 500
)

// Health reports process-level state for the public health endpoint.
type Health struct {
	KillSwitch          bool
	TelephonyConfigured bool
}

type Handlers struct {
	Tenants tenants.Repository
	Leads   leads.Repository
	Convlog *convlog.Service
	Health  Health
}

// RegisterPublic wires the unauthenticated routes.
func (h *Handlers) RegisterPublic(r gin.IRoutes) {
	r.GET("/health", h.handleHealth)
}

// Register wires the authenticated dashboard routes. The caller is expected
// to mount these behind auth.RequireAccessToken and rbac.RequireTenant; the
// ai_active toggle additionally goes behind rbac.RequireAnyRole(RoleAdmin).
func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/activity", h.handleActivity)
	r.GET("/funnel", h.handleFunnel)
	r.GET("/revenue", h.handleRevenue)
	r.GET("/leads", h.handleLeads)
}

// RegisterAdmin wires the mutating routes; mount behind the admin role check.
func (h *Handlers) RegisterAdmin(r gin.IRoutes) {
	r.POST("/settings/ai", h.handleSetAIActive)
}

func (h *Handlers) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "ok",
		"kill_switch":          h.Health.KillSwitch,
		"telephony_configured": h.Health.TelephonyConfigured,
	})
}

func (h *Handlers) handleActivity(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	entries, err := h.Convlog.RecentByTenant(c.Request.Context(), tenantID, queryLimit(c, defaultActivityLimit))
	if err != nil {
		logger.FromGin(c).Error("activity query failed", "tenant", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "activity lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *Handlers) handleFunnel(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	counts, err := h.Leads.CountByStatus(c.Request.Context(), tenantID)
	if err != nil {
		logger.FromGin(c).Error("funnel query failed", "tenant", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "funnel lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

// handleRevenue estimates pipeline value as emergency-intent lead count times
// the tenant's configured average job value. It is an estimate, not billing.
func (h *Handlers) handleRevenue(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	t, err := h.Tenants.GetByID(c.Request.Context(), tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "tenant not found"})
		return
	}
	n, err := h.Leads.CountEmergencies(c.Request.Context(), tenantID)
	if err != nil {
		logger.FromGin(c).Error("revenue query failed", "tenant", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "revenue lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"emergency_leads":   n,
		"average_job_value": t.AverageJobValue,
		"estimated_revenue": float64(n) * t.AverageJobValue,
	})
}

func (h *Handlers) handleLeads(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	rows, err := h.Leads.ListByTenant(c.Request.Context(), tenantID, queryLimit(c, defaultLeadLimit))
	if err != nil {
		logger.FromGin(c).Error("lead list failed", "tenant", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead lookup failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, l := range rows {
		out = append(out, gin.H{
			"id":              l.ID,
			"phone":           logger.MaskPhone(l.Phone),
			"name":            l.Name,
			"status":          l.Status,
			"intent":          l.Intent,
			"opt_out":         l.OptOut,
			"created_at":      l.CreatedAt,
			"last_contact_at": l.LastContactAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"leads": out})
}

type setAIActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handlers) handleSetAIActive(c *gin.Context) {
	tenantID, ok := requireTenant(c)
	if !ok {
		return
	}
	var req setAIActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Active == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "active (bool) required"})
		return
	}
	if err := h.Tenants.SetAIActive(c.Request.Context(), tenantID, *req.Active); err != nil {
		logger.FromGin(c).Error("ai_active toggle failed", "tenant", tenantID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	logger.FromGin(c).Info("ai_active toggled", "tenant", tenantID, "active", *req.Active)
	c.JSON(http.StatusOK, gin.H{"ai_active": *req.Active})
}

func requireTenant(c *gin.Context) (string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", false
	}
	return tenantID, true
}

func queryLimit(c *gin.Context, def int) int {
	raw := c.Query("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
