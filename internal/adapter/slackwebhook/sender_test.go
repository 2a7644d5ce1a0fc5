package slackwebhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/slack-go/slack"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Sender)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSender(t *testing.T, url string) *Sender {
	t.Helper()
	cfg := config.Defaults()
	cfg.WebhookURL = url
	s, err := New(&cfg, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestNewRequiresURL(t *testing.T) {
	cfg := config.Defaults()
	if _, err := New(&cfg, discardLogger()); !errors.Is(err, transport.ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestSendMessage(t *testing.T) {
	var payload struct {
		Text   string `json:"text"`
		Blocks []struct {
			Type string `json:"type"`
		} `json:"blocks"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode webhook body: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := newTestSender(t, srv.URL)
	doc := message.Document{
		Text: "Workflow completed",
		Blocks: []slack.Block{
			slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, "Workflow completed", true, false)),
			slack.NewDividerBlock(),
		},
	}

	ts, err := s.SendMessage(context.Background(), doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts != "" {
		t.Fatalf("webhooks have no timestamps, got %q", ts)
	}
	if payload.Text != "Workflow completed" {
		t.Fatalf("unexpected text %q", payload.Text)
	}
	if len(payload.Blocks) != 2 || payload.Blocks[0].Type != "header" {
		t.Fatalf("unexpected blocks: %+v", payload.Blocks)
	}
}

func TestSendMessageHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no_service", http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestSender(t, srv.URL)
	if _, err := s.SendMessage(context.Background(), message.Document{Text: "x"}); err == nil {
		t.Fatal("expected error for HTTP failure")
	}
}

func TestUnsupportedOperations(t *testing.T) {
	s := newTestSender(t, "https://hooks.slack.com/services/T0/B0/x")
	ctx := context.Background()

	if err := s.UpdateMessage(ctx, "111.1", message.Document{}); !errors.Is(err, transport.ErrUnsupported) {
		t.Fatalf("update: expected ErrUnsupported, got %v", err)
	}
	if err := s.AddReaction(ctx, "rocket", "111.1"); !errors.Is(err, transport.ErrUnsupported) {
		t.Fatalf("add reaction: expected ErrUnsupported, got %v", err)
	}
	if err := s.RemoveReaction(ctx, "rocket", "111.1"); !errors.Is(err, transport.ErrUnsupported) {
		t.Fatalf("remove reaction: expected ErrUnsupported, got %v", err)
	}
	if err := s.UploadFile(ctx, transport.UploadRequest{Path: "report.html"}); !errors.Is(err, transport.ErrUnsupported) {
		t.Fatalf("upload: expected ErrUnsupported, got %v", err)
	}
}

func TestValidateAlwaysTrue(t *testing.T) {
	s := newTestSender(t, "https://hooks.slack.com/services/T0/B0/x")
	if !s.Validate(context.Background()) {
		t.Fatal("webhook validation must be unconditionally true")
	}
	if s.ThreadTS() != "" {
		t.Fatal("webhooks never have a thread anchor")
	}
	if caps := s.Capabilities(); caps.LiveUpdate || caps.Reactions || caps.Uploads || caps.Threads {
		t.Fatalf("webhook capabilities must all be false: %+v", caps)
	}
}
