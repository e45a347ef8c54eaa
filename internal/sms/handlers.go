package sms

import (
	"encoding/xml"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"leadline/internal/outbound"
	"leadline/internal/webhooks"
	"leadline/pkg/logger"
)

// messagingResponse is the provider's SMS reply markup; an empty one
// acknowledges without replying.
type messagingResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

type Handlers struct {
	router   *Router
	outbound outbound.Repository
	replay   webhooks.ReplayQueue
}

func NewHandlers(router *Router, repo outbound.Repository, replay webhooks.ReplayQueue) *Handlers {
	return &Handlers{router: router, outbound: repo, replay: replay}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/sms", h.handleInbound)
	r.POST("/sms/status", h.handleStatus)
}

func (h *Handlers) handleInbound(c *gin.Context) {
	res := h.router.Process(c.Request.Context(), Event{
		From:       c.PostForm("From"),
		To:         c.PostForm("To"),
		Body:       strings.TrimSpace(c.PostForm("Body")),
		MessageSid: c.PostForm("MessageSid"),
		SmsStatus:  c.PostForm("SmsStatus"),
	})
	if res.Defer && h.replay != nil {
		if err := h.replay.Defer(c.Request.Context(), webhooks.RawEvent{
			Kind:       "sms",
			Form:       c.Request.PostForm,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			logger.FromGin(c).Warn("webhook defer failed", "err", err)
		}
	}
	c.XML(http.StatusOK, messagingResponse{Message: res.Reply})
}

// handleStatus correlates delivery callbacks with queue rows by provider
// message id. Unknown ids are logged, not errors: rows sent before tracking
// existed still produce callbacks.
func (h *Handlers) handleStatus(c *gin.Context) {
	sid := c.PostForm("MessageSid")
	providerStatus := c.PostForm("MessageStatus")
	if sid == "" || providerStatus == "" {
		c.String(http.StatusBadRequest, "missing MessageSid or MessageStatus")
		return
	}

	status, ok := mapProviderStatus(providerStatus)
	if !ok {
		logger.FromGin(c).Info("unhandled delivery status", "status", providerStatus, "sid", sid)
		c.Status(http.StatusOK)
		return
	}

	if err := h.outbound.SetProviderStatus(c.Request.Context(), sid, status); err != nil {
		logger.FromGin(c).Warn("delivery status update failed", "sid", sid, "err", err)
	}
	c.Status(http.StatusOK)
}

func mapProviderStatus(s string) (outbound.Status, bool) {
	switch strings.ToLower(s) {
	case "queued", "sending", "sent":
		return outbound.StatusSent, true
	case "delivered":
		return outbound.StatusDelivered, true
	case "failed", "undelivered":
		return outbound.StatusFailed, true
	default:
		return "", false
	}
}
