package webhooks

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// RawEvent is an inbound webhook captured verbatim for deferred processing
// when the guard answered unknown.
type RawEvent struct {
	Kind       string     `json:"kind"` // voice | voice_status | voicemail | sms | sms_status
	Form       url.Values `json:"form"`
	ReceivedAt time.Time  `json:"received_at"`
}

// ReplayQueue holds raw events until the store recovers.
type ReplayQueue interface {
	Defer(ctx context.Context, e RawEvent) error
}

// ReplayHandler re-dispatches one deferred event. A non-nil error leaves the
// event queued for another pass.
type ReplayHandler func(ctx context.Context, e RawEvent) error

const defaultReplayCapacity = 1024

// MemoryReplay is the bounded in-process queue. When full, the oldest event
// is dropped: provider retries cover the loss, and unbounded growth during a
// long outage would be worse.
type MemoryReplay struct {
	mu     sync.Mutex
	events []RawEvent
	cap    int
	log    *slog.Logger

	dropped int
}

func NewMemoryReplay(capacity int, log *slog.Logger) *MemoryReplay {
	if capacity <= 0 {
		capacity = defaultReplayCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &MemoryReplay{cap: capacity, log: log}
}

func (m *MemoryReplay) Defer(_ context.Context, e RawEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) >= m.cap {
		m.events = m.events[1:]
		m.dropped++
		m.log.Warn("replay queue full, dropped oldest deferred webhook",
			slog.Int("dropped_total", m.dropped))
	}
	m.events = append(m.events, e)
	return nil
}

func (m *MemoryReplay) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// Drain replays queued events in order until the queue is empty or the
// handler fails; a failing event stays at the head for the next pass.
func (m *MemoryReplay) Drain(ctx context.Context, handler ReplayHandler) error {
	for {
		m.mu.Lock()
		if len(m.events) == 0 {
			m.mu.Unlock()
			return nil
		}
		head := m.events[0]
		m.mu.Unlock()

		if err := handler(ctx, head); err != nil {
			return err
		}

		m.mu.Lock()
		if len(m.events) > 0 {
			m.events = m.events[1:]
		}
		m.mu.Unlock()
	}
}

// Start drains on the given interval until ctx is done.
func (m *MemoryReplay) Start(ctx context.Context, interval time.Duration, handler ReplayHandler) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Drain(ctx, handler); err != nil {
				m.log.Warn("replay drain halted", slog.String("error", err.Error()))
			}
		}
	}
}
