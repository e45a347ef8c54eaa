package main

import (
	"github.com/gin-gonic/gin"

	"leadline/internal/auth"
	"leadline/internal/compliance"
	"leadline/internal/dashboard"
	"leadline/internal/rbac"
	"leadline/internal/sms"
	"leadline/internal/telephony"
	"leadline/internal/voice"
)

type routeDeps struct {
	auth       *auth.Manager
	gateway    telephony.Gateway
	voice      *voice.Handlers
	sms        *sms.Handlers
	compliance *compliance.Handlers
	dashboard  *dashboard.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	// public
	deps.dashboard.RegisterPublic(r)
	deps.compliance.Register(r)

	// Provider webhooks: authenticated by the provider's request signature,
	// not by bearer tokens.
	hooks := r.Group("", telephony.SignatureMiddleware(deps.gateway))
	deps.voice.Register(hooks)
	deps.sms.Register(hooks)

	// protected API group
	api := r.Group("/api")
	api.Use(auth.RequireAccessToken(deps.auth))
	api.Use(rbac.RequireTenant())
	{
		deps.dashboard.Register(api)

		admin := api.Group("")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		deps.dashboard.RegisterAdmin(admin)
	}
}
