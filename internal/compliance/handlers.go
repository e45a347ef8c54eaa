package compliance

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leadline/pkg/logger"
)

const unsubscribedPage = "<h1>Unsubscribed</h1><p>You have been successfully removed from our list.</p>"

type Handlers struct {
	svc *Service
}

func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.GET("/unsubscribe", h.handleUnsubscribe)
}

// handleUnsubscribe is a public GET so the link works from any mail or SMS
// client. The HMAC token is the only authentication.
func (h *Handlers) handleUnsubscribe(c *gin.Context) {
	phone := c.Query("phone")
	token := c.Query("token")

	if phone == "" || token == "" {
		c.String(http.StatusBadRequest, "Invalid Request. Missing phone or token.")
		return
	}
	if !h.svc.Verify(phone, token) {
		c.String(http.StatusForbidden, "Invalid Security Token.")
		return
	}

	if err := h.svc.Unsubscribe(c.Request.Context(), phone); err != nil {
		logger.FromGin(c).Error("unsubscribe failed", "err", err)
		c.String(http.StatusInternalServerError, "Something went wrong. Please reply STOP instead.")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, unsubscribedPage)
}
