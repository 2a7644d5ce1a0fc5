package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/flowrelay/flowrelay/internal/config"
)

func TestNew(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "flowrelay-test"}
	l, closer := New(cfg)
	defer closer.Close()
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewAsync(t *testing.T) {
	cfg := config.Logging{Level: "debug", Service: "flowrelay-test", Async: true}
	l, closer := New(cfg)
	if l == nil {
		t.Fatal("expected non-nil logger")
	}
	closer.Close()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseLevel(tt.input).String()
			if got != tt.want {
				t.Errorf("parseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()

	if got := RunID(ctx); got != "" {
		t.Errorf("expected empty run ID, got %q", got)
	}

	ctx = WithRunID(ctx, "berserk_heisenberg")
	if got := RunID(ctx); got != "berserk_heisenberg" {
		t.Errorf("expected berserk_heisenberg, got %q", got)
	}
}

func TestContextHandlerStampsRunID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(contextHandler{inner: slog.NewJSONHandler(&buf, nil)})

	ctx := WithRunID(context.Background(), "run-42")
	log.InfoContext(ctx, "delivery ok")
	if !strings.Contains(buf.String(), `"run_id":"run-42"`) {
		t.Fatalf("run_id missing from record: %s", buf.String())
	}

	buf.Reset()
	log.Info("no run context")
	if strings.Contains(buf.String(), "run_id") {
		t.Fatalf("run_id present without context: %s", buf.String())
	}
}
