// Package slackwebhook implements the webhook delivery mode: one-way,
// unauthenticated message posting with no threading, reactions or uploads.
package slackwebhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/logger"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/transport"
)

const modeName = config.ModeWebhook

// Sender posts documents to a Slack incoming webhook.
type Sender struct {
	url        string
	log        *slog.Logger
	dedup      *logger.Dedup
	httpClient *http.Client
}

// New creates a webhook Sender from the configuration snapshot.
func New(cfg *config.Config, log *slog.Logger) (*Sender, error) {
	if cfg.WebhookURL == "" {
		return nil, transport.ErrNotConfigured
	}
	return &Sender{
		url:   cfg.WebhookURL,
		log:   log,
		dedup: logger.NewDedup(),
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		},
	}, nil
}

func (s *Sender) Name() string { return modeName }

func (s *Sender) Capabilities() transport.Capabilities {
	// Incoming webhooks carry no bot identity: no message timestamps come
	// back, so nothing downstream of a post is possible.
	return transport.Capabilities{}
}

// SendMessage posts the document. Webhooks return no timestamp, so the
// first return value is always empty.
func (s *Sender) SendMessage(ctx context.Context, doc message.Document) (string, error) {
	msg := &slack.WebhookMessage{
		Text:        doc.Text,
		Attachments: doc.Attachments,
	}
	if len(doc.Blocks) > 0 {
		msg.Blocks = &slack.Blocks{BlockSet: doc.Blocks}
	}

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.url, s.httpClient, msg); err != nil {
		s.logError("webhook post failed", err)
		return "", err
	}

	s.log.Debug("webhook message sent", "kind", doc.Kind)
	return "", nil
}

// UpdateMessage is unsupported: webhooks cannot address posted messages.
func (s *Sender) UpdateMessage(_ context.Context, _ string, _ message.Document) error {
	s.log.Debug("message update skipped: not supported over webhook")
	return transport.ErrUnsupported
}

// AddReaction is unsupported over webhooks.
func (s *Sender) AddReaction(_ context.Context, _, _ string) error {
	s.log.Debug("reaction skipped: not supported over webhook")
	return transport.ErrUnsupported
}

// RemoveReaction is unsupported over webhooks.
func (s *Sender) RemoveReaction(_ context.Context, _, _ string) error {
	s.log.Debug("reaction skipped: not supported over webhook")
	return transport.ErrUnsupported
}

// UploadFile is unsupported over webhooks.
func (s *Sender) UploadFile(_ context.Context, req transport.UploadRequest) error {
	s.log.Warn("file upload skipped: not supported over webhook, configure a bot token",
		"path", req.Path)
	return transport.ErrUnsupported
}

// Validate always reports true: without a bot identity there is nothing
// meaningful to check against the platform.
func (s *Sender) Validate(_ context.Context) bool { return true }

// ThreadTS always returns empty: webhook posts cannot anchor threads.
func (s *Sender) ThreadTS() string { return "" }

func (s *Sender) logError(msg string, err error) {
	if s.dedup.First(msg + ": " + err.Error()) {
		s.log.Warn(msg, "error", err)
	}
}
