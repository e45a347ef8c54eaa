// Package telephony is the only package that talks to the SMS/voice provider.
//
// Rules:
// - No provider HTTP calls outside this package.
// - Request/response types stay provider-agnostic; everything else in the
//   system is testable against the in-process fake.
package telephony

import (
	"context"
	"fmt"
)

type LineType string

const (
	LineTypeMobile   LineType = "mobile"
	LineTypeLandline LineType = "landline"
	LineTypeUnknown  LineType = "unknown"
)

type LookupResult struct {
	LineType   LineType
	CallerName string
}

// Gateway is the provider boundary. All calls honor the configured timeout.
type Gateway interface {
	// VerifySignature authenticates a provider webhook. url must be the full
	// public URL the provider signed.
	VerifySignature(url string, form map[string][]string, signature string) bool
	// Send submits one SMS and returns the provider's message id.
	Send(ctx context.Context, to, body string) (providerMessageID string, err error)
	// Lookup resolves line type and caller name for a number. Best-effort:
	// unknown is a valid answer.
	Lookup(ctx context.Context, number string) (LookupResult, error)
}

// AuthError means the provider rejected our credentials. Not retryable.
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return "telephony: auth: " + e.Msg }

// NotFoundError means the referenced resource (number, message) does not
// exist at the provider.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return "telephony: not found: " + e.Msg }

// TransientError covers timeouts, rate limits, and provider 5xx. Retryable.
type TransientError struct {
	Code int
	Msg  string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("telephony: transient (%d): %s", e.Code, e.Msg)
}

// PermanentRejectError means the provider will never accept this message
// (blocked recipient, invalid number). Never retried.
type PermanentRejectError struct {
	Code int
	Msg  string
}

func (e *PermanentRejectError) Error() string {
	return fmt.Sprintf("telephony: rejected (%d): %s", e.Code, e.Msg)
}
