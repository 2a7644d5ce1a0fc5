package logger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler that buffers records.
type Closer interface {
	Close()
}

// nopCloser is the Closer for synchronous mode.
type nopCloser struct{}

func (nopCloser) Close() {}

// entry pairs a record with the sink it was logged against, so attributes
// added via WithAttrs survive the handoff to the worker.
type entry struct {
	sink slog.Handler
	rec  slog.Record
}

// asyncHandler decouples record emission from the sink: Handle enqueues and
// returns immediately, a single worker drains the queue in arrival order. A
// host engine callback thread must never stall on a slow stderr pipe. When
// the queue is full the record is dropped and counted; the count is reported
// through the sink once on Close.
type asyncHandler struct {
	inner   slog.Handler
	queue   chan entry
	done    chan struct{}
	dropped *atomic.Int64
}

func newAsyncHandler(inner slog.Handler, depth int) *asyncHandler {
	h := &asyncHandler{
		inner:   inner,
		queue:   make(chan entry, depth),
		done:    make(chan struct{}),
		dropped: new(atomic.Int64),
	}
	go h.drain()
	return h
}

func (h *asyncHandler) drain() {
	defer close(h.done)
	for e := range h.queue {
		_ = e.sink.Handle(context.Background(), e.rec)
	}
	if n := h.dropped.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "log records dropped under load", 0)
		rec.AddAttrs(slog.Int64("dropped", n))
		_ = h.inner.Handle(context.Background(), rec)
	}
}

func (h *asyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues without blocking. A full queue drops the record.
func (h *asyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.queue <- entry{sink: h.inner, rec: rec}:
	default:
		h.dropped.Add(1)
	}
	return nil
}

// WithAttrs shares the queue and worker; only the sink changes.
func (h *asyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &asyncHandler{
		inner:   h.inner.WithAttrs(attrs),
		queue:   h.queue,
		done:    h.done,
		dropped: h.dropped,
	}
}

// WithGroup shares the queue and worker; only the sink changes.
func (h *asyncHandler) WithGroup(name string) slog.Handler {
	return &asyncHandler{
		inner:   h.inner.WithGroup(name),
		queue:   h.queue,
		done:    h.done,
		dropped: h.dropped,
	}
}

// Close stops intake and blocks until every queued record reached the sink.
func (h *asyncHandler) Close() {
	close(h.queue)
	<-h.done
}
