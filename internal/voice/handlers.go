package voice

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leadline/internal/webhooks"
	"leadline/pkg/logger"
)

// Handlers adapts the router to gin. No business logic here: parse the form,
// delegate, write markup. Every exit path answers 200 with valid markup so
// the provider never retry-storms a processing failure.
type Handlers struct {
	router *Router
	replay webhooks.ReplayQueue
}

func NewHandlers(router *Router, replay webhooks.ReplayQueue) *Handlers {
	return &Handlers{router: router, replay: replay}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/voice", h.handleCall)
	r.POST("/voice/status", h.handleStatus)
	r.POST("/voice/voicemail", h.handleVoicemail)
}

func (h *Handlers) handleCall(c *gin.Context) {
	res := h.router.HandleCall(c.Request.Context(), CallEvent{
		From:    c.PostForm("From"),
		To:      c.PostForm("To"),
		CallSid: c.PostForm("CallSid"),
		Digits:  c.PostForm("Digits"),
	})
	h.finish(c, "voice", res)
}

func (h *Handlers) handleStatus(c *gin.Context) {
	res := h.router.HandleDialStatus(c.Request.Context(), StatusEvent{
		CallSid:        c.PostForm("CallSid"),
		DialCallStatus: c.PostForm("DialCallStatus"),
		AnsweredBy:     c.PostForm("AnsweredBy"),
		From:           c.PostForm("From"),
		To:             c.PostForm("To"),
	})
	h.finish(c, "voice_status", res)
}

func (h *Handlers) handleVoicemail(c *gin.Context) {
	res := h.router.HandleVoicemail(c.Request.Context(), VoicemailEvent{
		CallSid:      c.PostForm("CallSid"),
		From:         c.PostForm("From"),
		To:           c.PostForm("To"),
		RecordingURL: c.PostForm("RecordingUrl"),
	})
	h.finish(c, "voicemail", res)
}

func (h *Handlers) finish(c *gin.Context, kind string, res Result) {
	if res.Defer && h.replay != nil {
		if err := h.replay.Defer(c.Request.Context(), webhooks.RawEvent{
			Kind:       kind,
			Form:       c.Request.PostForm,
			ReceivedAt: time.Now().UTC(),
		}); err != nil {
			logger.FromGin(c).Warn("webhook defer failed", "kind", kind, "err", err)
		}
	}
	body, err := res.TwiML.Render()
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		body = `<?xml version="1.0" encoding="UTF-8"?><Response/>`
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, body)
}
