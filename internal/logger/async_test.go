package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

// captureSink records one line per handled record, prefixed with any attrs
// added via WithAttrs. An optional stall simulates a slow stderr pipe.
type captureSink struct {
	shared *sinkState
	labels []string
}

type sinkState struct {
	mu    sync.Mutex
	stall time.Duration
	lines []string
}

func newCaptureSink(stall time.Duration) *captureSink {
	return &captureSink{shared: &sinkState{stall: stall}}
}

func (s *captureSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *captureSink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if s.shared.stall > 0 {
		time.Sleep(s.shared.stall)
	}
	line := strings.Join(append(append([]string(nil), s.labels...), rec.Message), " ")
	s.shared.mu.Lock()
	s.shared.lines = append(s.shared.lines, line)
	s.shared.mu.Unlock()
	return nil
}

func (s *captureSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	labels := append([]string(nil), s.labels...)
	for _, a := range attrs {
		labels = append(labels, a.String())
	}
	return &captureSink{shared: s.shared, labels: labels}
}

func (s *captureSink) WithGroup(string) slog.Handler { return s }

func (s *captureSink) snapshot() []string {
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return append([]string(nil), s.shared.lines...)
}

func TestAsyncDeliversInOrder(t *testing.T) {
	sink := newCaptureSink(0)
	ah := newAsyncHandler(sink, 64)

	const total = 50
	for i := range total {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf("record %02d", i), 0)
		if err := ah.Handle(context.Background(), rec); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	ah.Close()

	lines := sink.snapshot()
	if len(lines) != total {
		t.Fatalf("delivered %d records, want %d", len(lines), total)
	}
	for i, line := range lines {
		if want := fmt.Sprintf("record %02d", i); line != want {
			t.Fatalf("record %d out of order: %q", i, line)
		}
	}
}

func TestAsyncCloseFlushesQueue(t *testing.T) {
	sink := newCaptureSink(0)
	ah := newAsyncHandler(sink, 256)

	const total = 200
	for range total {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "flush", 0)
		_ = ah.Handle(context.Background(), rec)
	}
	ah.Close()

	if got := len(sink.snapshot()); got != total {
		t.Fatalf("flushed %d records, want %d", got, total)
	}
}

func TestAsyncFullQueueDropsAndReports(t *testing.T) {
	// A blocking Handle would make every record wait out the stall; with a
	// depth-one queue and a slow sink, a non-blocking Handle must drop most
	// of the flood and report the count on Close.
	sink := newCaptureSink(10 * time.Millisecond)
	ah := newAsyncHandler(sink, 1)

	for range 50 {
		rec := slog.NewRecord(time.Now(), slog.LevelInfo, "flood", 0)
		_ = ah.Handle(context.Background(), rec)
	}
	ah.Close()

	if ah.dropped.Load() == 0 {
		t.Fatal("expected records to be dropped, got none")
	}
	lines := sink.snapshot()
	if len(lines) == 0 || lines[len(lines)-1] != "log records dropped under load" {
		t.Fatalf("missing drop report, got %v", lines)
	}
}

func TestAsyncPreservesDerivedAttrs(t *testing.T) {
	sink := newCaptureSink(0)
	ah := newAsyncHandler(sink, 16)

	log := slog.New(ah).With("service", "flowrelay")
	log.Info("hello")
	ah.Close()

	lines := sink.snapshot()
	if len(lines) != 1 {
		t.Fatalf("delivered %d records, want 1", len(lines))
	}
	if !strings.Contains(lines[0], "service=flowrelay") || !strings.Contains(lines[0], "hello") {
		t.Fatalf("derived attrs lost in handoff: %q", lines[0])
	}
}
