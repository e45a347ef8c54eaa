package telephony

import (
	"context"
	"sync"
)

// SentMessage is one send captured by the fake.
type SentMessage struct {
	To   string
	Body string
}

// FakeGateway is the in-process Gateway for tests. Program SendErr to make
// sends fail and Lookups to answer specific numbers.
type FakeGateway struct {
	mu      sync.Mutex
	sent    []SentMessage
	counter int

	SendErr   error
	Lookups   map[string]LookupResult
	LookupErr error
	// Signatures valid unless set.
	RejectSignatures bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{Lookups: make(map[string]LookupResult)}
}

func (f *FakeGateway) VerifySignature(string, map[string][]string, string) bool {
	return !f.RejectSignatures
}

func (f *FakeGateway) Send(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return "", f.SendErr
	}
	f.counter++
	f.sent = append(f.sent, SentMessage{To: to, Body: body})
	return fakeSID(f.counter), nil
}

func (f *FakeGateway) Lookup(_ context.Context, number string) (LookupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupErr != nil {
		return LookupResult{}, f.LookupErr
	}
	if r, ok := f.Lookups[number]; ok {
		return r, nil
	}
	return LookupResult{LineType: LineTypeUnknown}, nil
}

func (f *FakeGateway) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func fakeSID(n int) string {
	const digits = "0123456789"
	buf := []byte("SMfake0000")
	for i := len(buf) - 1; n > 0 && i >= 6; i-- {
		buf[i] = digits[n%10]
		n /= 10
	}
	return string(buf)
}
