// Package slackbot implements the bot delivery mode: authenticated Web API
// access with threading, in-place updates, reactions and file uploads.
package slackbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/logger"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/transport"
	"github.com/flowrelay/flowrelay/internal/resilience"
)

const modeName = config.ModeBot

// Circuit breaker settings for outbound deliveries. After breakerTrips
// consecutive failures the Sender stops calling the platform for
// breakerCooldown, then probes with the next delivery.
const (
	breakerTrips    = 5
	breakerCooldown = time.Minute
)

// MaxUploadSize is the upload pre-flight ceiling. Files above it are
// rejected locally before any network step. Not configurable.
const MaxUploadSize = 100 << 20 // 100 MiB

// Upload pre-flight errors. Logged and returned; never escalated by callers.
var (
	ErrNoPath         = errors.New("upload: no file path given")
	ErrFileNotFound   = errors.New("upload: file does not exist")
	ErrFileUnreadable = errors.New("upload: file is not readable")
	ErrFileEmpty      = errors.New("upload: file is empty")
	ErrFileTooLarge   = errors.New("upload: file exceeds the 100 MiB ceiling")
)

// api is the slice of the Slack Web API client the Sender depends on.
// Narrowed for tests.
type api interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	UpdateMessageContext(ctx context.Context, channelID, timestamp string, options ...slack.MsgOption) (string, string, string, error)
	AddReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	RemoveReactionContext(ctx context.Context, name string, item slack.ItemRef) error
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Sender delivers documents through an authenticated bot connection.
type Sender struct {
	api     api
	channel string
	log     *slog.Logger
	dedup   *logger.Dedup
	breaker *resilience.Breaker

	// mu guards the run's thread anchor. First successful post wins;
	// later posts never overwrite it.
	mu              sync.Mutex
	threadTS        string
	resolvedChannel string
}

// New creates a bot Sender from the configuration snapshot.
func New(cfg *config.Config, log *slog.Logger) (*Sender, error) {
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil, transport.ErrNotConfigured
	}

	client := slack.New(cfg.BotToken,
		slack.OptionHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}),
	)

	return newSender(client, cfg.Channel, log), nil
}

func newSender(client api, channel string, log *slog.Logger) *Sender {
	return &Sender{
		api:     client,
		channel: channel,
		log:     log,
		dedup:   logger.NewDedup(),
		breaker: resilience.NewBreaker(breakerTrips, breakerCooldown),
	}
}

func (s *Sender) Name() string { return modeName }

func (s *Sender) Capabilities() transport.Capabilities {
	return transport.Capabilities{
		LiveUpdate: true,
		Reactions:  true,
		Uploads:    true,
		Threads:    true,
	}
}

// SendMessage posts the document and returns the platform timestamp.
// The first successful post of the run also captures the thread anchor.
func (s *Sender) SendMessage(ctx context.Context, doc message.Document) (string, error) {
	channel := s.channel
	if doc.Channel != "" {
		channel = doc.Channel
	}

	var ch, ts string
	err := s.breaker.Do(func() error {
		var err error
		ch, ts, err = s.api.PostMessageContext(ctx, channel, msgOptions(doc)...)
		return err
	})
	if err != nil {
		s.logError("post message failed", err)
		return "", err
	}

	s.mu.Lock()
	if s.threadTS == "" {
		s.threadTS = ts
		// chat.postMessage echoes the resolved channel ID, which the
		// reactions and upload endpoints require.
		s.resolvedChannel = ch
	}
	s.mu.Unlock()

	s.log.Debug("message sent", "kind", doc.Kind, "ts", ts)
	return ts, nil
}

// UpdateMessage edits a posted message in place.
func (s *Sender) UpdateMessage(ctx context.Context, ts string, doc message.Document) error {
	err := s.breaker.Do(func() error {
		_, _, _, err := s.api.UpdateMessageContext(ctx, s.channelID(), ts, msgOptions(doc)...)
		return err
	})
	if err != nil {
		s.logError("update message failed", err)
		return err
	}
	return nil
}

// AddReaction adds an emoji to a posted message.
func (s *Sender) AddReaction(ctx context.Context, emoji, ts string) error {
	err := s.api.AddReactionContext(ctx, emoji, slack.NewRefToMessage(s.channelID(), ts))
	return s.reactionResult("add reaction failed", emoji, err)
}

// RemoveReaction removes an emoji from a posted message.
func (s *Sender) RemoveReaction(ctx context.Context, emoji, ts string) error {
	err := s.api.RemoveReactionContext(ctx, emoji, slack.NewRefToMessage(s.channelID(), ts))
	return s.reactionResult("remove reaction failed", emoji, err)
}

func (s *Sender) reactionResult(msg, emoji string, err error) error {
	switch {
	case err == nil:
		return nil
	case strings.Contains(err.Error(), "missing_scope"):
		if s.dedup.First("reactions missing_scope") {
			s.log.Warn("reactions need the reactions:write OAuth scope, re-install the app to enable them",
				"emoji", emoji)
		}
		return err
	case strings.Contains(err.Error(), "already_reacted"),
		strings.Contains(err.Error(), "no_reaction"):
		// Harmless races with manual reactions.
		return nil
	default:
		s.logError(msg, err)
		return err
	}
}

// UploadFile checks the file locally, then runs the platform's three-step
// upload protocol (slot request, byte transfer, finalize) via the client.
// Pre-flight rejections never reach the network.
func (s *Sender) UploadFile(ctx context.Context, req transport.UploadRequest) error {
	size, err := s.preflight(req.Path)
	if err != nil {
		return err
	}

	title := req.Title
	if title == "" {
		title = filepath.Base(req.Path)
	}

	err = s.breaker.Do(func() error {
		_, err := s.api.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			File:            req.Path,
			FileSize:        int(size),
			Filename:        filepath.Base(req.Path),
			Title:           title,
			Channel:         s.channelID(),
			InitialComment:  req.Comment,
			ThreadTimestamp: req.ThreadTS,
		})
		return err
	})
	if err != nil {
		s.logError("file upload failed", err)
		return err
	}

	s.log.Debug("file uploaded", "path", req.Path, "size", size)
	return nil
}

// preflight validates the upload locally and returns the file size.
func (s *Sender) preflight(path string) (int64, error) {
	if path == "" {
		s.log.Warn("file upload skipped: no path given")
		return 0, ErrNoPath
	}

	fi, err := os.Stat(path)
	if err != nil {
		s.log.Warn("file upload skipped: file does not exist", "path", path)
		return 0, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	if fi.Size() == 0 {
		s.log.Warn("file upload skipped: file is empty", "path", path)
		return 0, fmt.Errorf("%w: %s", ErrFileEmpty, path)
	}
	if fi.Size() > MaxUploadSize {
		s.log.Warn("file upload skipped: file exceeds 100 MiB", "path", path, "size", fi.Size())
		return 0, fmt.Errorf("%w: %s", ErrFileTooLarge, path)
	}

	f, err := os.Open(path) //nolint:gosec // G304: path comes from pipeline config
	if err != nil {
		s.log.Warn("file upload skipped: file is not readable", "path", path, "error", err)
		return 0, fmt.Errorf("%w: %s", ErrFileUnreadable, path)
	}
	_ = f.Close()

	return fi.Size(), nil
}

// Validate calls the auth-check endpoint. Only an explicit API-level
// success counts; any network or API failure reports false.
func (s *Sender) Validate(ctx context.Context) bool {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		s.logError("auth check failed", err)
		return false
	}
	s.log.Debug("auth check passed", "team", resp.Team, "bot_user", resp.User)
	return true
}

// ThreadTS returns the run's thread anchor, set by the first successful post.
func (s *Sender) ThreadTS() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadTS
}

// channelID prefers the ID echoed by the platform over the configured
// channel, which may be a "#name" reference.
func (s *Sender) channelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolvedChannel != "" {
		return s.resolvedChannel
	}
	return s.channel
}

func msgOptions(doc message.Document) []slack.MsgOption {
	opts := []slack.MsgOption{
		slack.MsgOptionText(doc.Text, false),
	}
	if len(doc.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(doc.Blocks...))
	}
	if len(doc.Attachments) > 0 {
		opts = append(opts, slack.MsgOptionAttachments(doc.Attachments...))
	}
	if doc.ThreadTS != "" {
		opts = append(opts, slack.MsgOptionTS(doc.ThreadTS))
	}
	return opts
}

func (s *Sender) logError(msg string, err error) {
	if s.dedup.First(msg + ": " + err.Error()) {
		s.log.Warn(msg, "error", err)
	}
}
