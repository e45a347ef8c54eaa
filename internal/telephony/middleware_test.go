package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func postForm(t *testing.T, engine *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader("From=%2B14155550111"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func newSignedEngine(gw Gateway) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SignatureMiddleware(gw))
	r.POST("/sms", func(c *gin.Context) { c.Status(200) })
	return r
}

func TestSignatureMiddlewarePassesValid(t *testing.T) {
	engine := newSignedEngine(NewFakeGateway())
	w := postForm(t, engine, map[string]string{"X-Twilio-Signature": "sig"})
	if w.Code != 200 {
		t.Fatalf("code = %d, want 200", w.Code)
	}
}

func TestSignatureMiddlewareRejectsInvalid(t *testing.T) {
	gw := NewFakeGateway()
	gw.RejectSignatures = true
	engine := newSignedEngine(gw)
	w := postForm(t, engine, map[string]string{"X-Twilio-Signature": "bad"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("code = %d, want 403", w.Code)
	}
}

func TestRequestURLUsesForwardingHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://internal:8080/voice?x=1", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "hooks.example.com")
	got := requestURL(req)
	want := "https://hooks.example.com/voice?x=1"
	if got != want {
		t.Fatalf("requestURL = %q, want %q", got, want)
	}
}
