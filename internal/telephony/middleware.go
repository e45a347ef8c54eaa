package telephony

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"leadline/pkg/logger"
)

// SignatureMiddleware rejects webhook posts whose X-Twilio-Signature does not
// match. The provider signs the public URL it requested, so the scheme and
// host are reconstructed from forwarding headers when behind a proxy.
func SignatureMiddleware(gw Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		sig := c.GetHeader("X-Twilio-Signature")
		if !gw.VerifySignature(requestURL(c.Request), c.Request.PostForm, sig) {
			logger.FromGin(c).Warn("webhook signature rejected",
				"path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func requestURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return scheme + "://" + host + r.URL.RequestURI()
}
