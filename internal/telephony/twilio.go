package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	twilioAPIBase    = "https://api.twilio.com/2010-04-01"
	twilioLookupBase = "https://lookups.twilio.com/v2"

	defaultTimeout = 30 * time.Second
)

// Provider error codes that mean the recipient will never accept the message.
var permanentRejectCodes = map[int]bool{
	21211: true, // invalid To number
	21610: true, // recipient has replied STOP
	21614: true, // To is not a mobile number
	30006: true, // landline or unreachable carrier
}

// TwilioGateway is the production Gateway over the provider REST API. It is
// deliberately SDK-free: three endpoints do not justify a dependency.
type TwilioGateway struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client

	apiBase    string
	lookupBase string
}

func NewTwilioGateway(accountSID, authToken, from string, timeout time.Duration) *TwilioGateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &TwilioGateway{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: timeout},
		apiBase:    twilioAPIBase,
		lookupBase: twilioLookupBase,
	}
}

func (g *TwilioGateway) VerifySignature(reqURL string, form map[string][]string, signature string) bool {
	return ValidSignature(g.authToken, reqURL, form, signature)
}

type twilioMessageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *TwilioGateway) Send(ctx context.Context, to, body string) (string, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", g.apiBase, g.accountSID)
	form := url.Values{
		"To":   {to},
		"From": {g.from},
		"Body": {body},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(g.accountSID, g.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable.
		return "", &TransientError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &TransientError{Msg: err.Error()}
	}
	var payload twilioMessageResponse
	_ = json.Unmarshal(raw, &payload)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		if payload.SID == "" {
			return "", &TransientError{Code: resp.StatusCode, Msg: "accepted without message sid"}
		}
		return payload.SID, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &AuthError{Msg: payload.Message}
	case resp.StatusCode == http.StatusNotFound:
		return "", &NotFoundError{Msg: payload.Message}
	case permanentRejectCodes[payload.Code]:
		return "", &PermanentRejectError{Code: payload.Code, Msg: payload.Message}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &TransientError{Code: resp.StatusCode, Msg: payload.Message}
	default:
		// Remaining 4xx: bad request shapes do not heal on retry.
		return "", &PermanentRejectError{Code: payload.Code, Msg: payload.Message}
	}
}

type twilioLookupResponse struct {
	CallerName struct {
		CallerName string `json:"caller_name"`
	} `json:"caller_name"`
	LineTypeIntelligence struct {
		Type string `json:"type"`
	} `json:"line_type_intelligence"`
}

func (g *TwilioGateway) Lookup(ctx context.Context, number string) (LookupResult, error) {
	endpoint := fmt.Sprintf("%s/PhoneNumbers/%s?Fields=line_type_intelligence,caller_name",
		g.lookupBase, url.PathEscape(number))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return LookupResult{}, err
	}
	req.SetBasicAuth(g.accountSID, g.authToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return LookupResult{}, &TransientError{Msg: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return LookupResult{}, &NotFoundError{Msg: number}
	case resp.StatusCode == http.StatusUnauthorized:
		return LookupResult{}, &AuthError{Msg: "lookup unauthorized"}
	case resp.StatusCode != http.StatusOK:
		return LookupResult{}, &TransientError{Code: resp.StatusCode, Msg: "lookup failed"}
	}

	var payload twilioLookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return LookupResult{}, &TransientError{Msg: err.Error()}
	}
	return LookupResult{
		LineType:   parseLineType(payload.LineTypeIntelligence.Type),
		CallerName: payload.CallerName.CallerName,
	}, nil
}

func parseLineType(s string) LineType {
	switch strings.ToLower(s) {
	case "mobile", "voip":
		// VoIP numbers receive SMS; treat them as mobile.
		return LineTypeMobile
	case "landline", "fixedvoip":
		return LineTypeLandline
	default:
		return LineTypeUnknown
	}
}
