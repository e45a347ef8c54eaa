// Package jobs runs best-effort background work: call-recording transcription
// and spreadsheet exports. Jobs are fire-and-forget; a failure is logged and
// dropped, never retried, and never blocks a webhook response.
package jobs

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Transcriber converts a call recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
}

// SheetWriter appends one row to an external spreadsheet.
type SheetWriter interface {
	Append(ctx context.Context, sheetID string, row []string) error
}

// Job is a unit of background work.
type Job interface {
	Name() string
	Run(ctx context.Context, r *Runner) error
}

// Transcribe fetches the recording transcript and stores it on the lead's
// conversation log via the provided sink.
type Transcribe struct {
	TenantID     string
	CallID       string
	From         string
	RecordingURL string
	// Sink receives the finished transcript.
	Sink func(ctx context.Context, tenantID, callID, from, text string) error
}

func (t Transcribe) Name() string { return "transcribe" }

func (t Transcribe) Run(ctx context.Context, r *Runner) error {
	if r.transcriber == nil {
		return nil
	}
	text, err := r.transcriber.Transcribe(ctx, t.RecordingURL)
	if err != nil {
		return err
	}
	if t.Sink == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	return t.Sink(ctx, t.TenantID, t.CallID, t.From, text)
}

// SheetAppend exports one lead row to the tenant's spreadsheet.
type SheetAppend struct {
	SheetID string
	Row     []string
}

func (s SheetAppend) Name() string { return "sheet_append" }

func (s SheetAppend) Run(ctx context.Context, r *Runner) error {
	if r.sheets == nil || s.SheetID == "" {
		return nil
	}
	return r.sheets.Append(ctx, s.SheetID, s.Row)
}

// Runner is a bounded worker pool. Submit never blocks: when the queue is
// full the job is dropped and logged.
type Runner struct {
	transcriber Transcriber
	sheets      SheetWriter
	queue       chan Job
	workers     int
	wg          sync.WaitGroup
	log         *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewRunner(transcriber Transcriber, sheets SheetWriter, workers, depth int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = 64
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		transcriber: transcriber,
		sheets:      sheets,
		queue:       make(chan Job, depth),
		workers:     workers,
		log:         log,
	}
}

// Start launches the workers. They drain the queue until Close.
func (r *Runner) Start(ctx context.Context) {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for j := range r.queue {
				if err := j.Run(ctx, r); err != nil {
					r.log.Warn("background job failed",
						slog.String("job", j.Name()),
						slog.String("error", err.Error()))
				}
			}
		}()
	}
}

// Submit enqueues a job, dropping it when the pool is saturated or closed.
func (r *Runner) Submit(j Job) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	select {
	case r.queue <- j:
		r.mu.Unlock()
	default:
		r.mu.Unlock()
		r.log.Warn("background job dropped, queue full", slog.String("job", j.Name()))
	}
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
