// Package service contains the Observer, the coordinator that turns host
// engine lifecycle callbacks into deliveries over a transport. The Observer
// is strictly best effort: a delivery failure is logged and forgotten, and a
// panic inside any callback is recovered before it can reach the host.
package service

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/flow"
	"github.com/flowrelay/flowrelay/internal/logger"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/enrich"
	"github.com/flowrelay/flowrelay/internal/port/transport"
	"github.com/flowrelay/flowrelay/internal/telemetry"
)

// Rewriter post-processes a document before delivery, resolving mention
// tokens into platform ID syntax.
type Rewriter interface {
	RewriteDocument(ctx context.Context, doc *message.Document)
}

// Observer relays run lifecycle events to the configured transport. All
// exported methods are safe to call from the host's worker goroutines and
// never return errors or panic: the host pipeline must not be able to fail
// because of a notification.
type Observer struct {
	cfg      *config.Config
	log      *slog.Logger
	tr       transport.Transport
	builder  *message.Builder
	rewriter Rewriter
	enricher enrich.Provider
	metrics  *telemetry.Metrics
	provider flow.Provider

	sessionID string
	active    bool

	mu          sync.Mutex
	startAt     time.Time
	startTS     string
	linkTimer   *time.Timer
	deepLink    string
	finished    bool
	progressTS  string
	lastSent    time.Time
	pendingTick *time.Timer

	submitted atomic.Int64
	succeeded atomic.Int64
	cached    atomic.Int64
	failed    atomic.Int64

	terminalDone atomic.Bool
}

// Option customizes Observer construction.
type Option func(*Observer)

// WithTransport injects a transport, bypassing the registry lookup.
func WithTransport(t transport.Transport) Option {
	return func(o *Observer) { o.tr = t }
}

// WithEnricher sets the deep-link source.
func WithEnricher(p enrich.Provider) Option {
	return func(o *Observer) { o.enricher = p }
}

// WithRewriter sets the mention rewriter applied to outgoing documents.
func WithRewriter(r Rewriter) Option {
	return func(o *Observer) { o.rewriter = r }
}

// New builds an Observer from a resolved configuration snapshot. A disabled
// or invalid configuration yields an inert Observer whose callbacks do
// nothing; the only error path is FailOnInvalidConfig, which turns a broken
// configuration into a hard stop for the host.
func New(ctx context.Context, cfg *config.Config, provider flow.Provider, log *slog.Logger, opts ...Option) (*Observer, error) {
	o := &Observer{
		cfg:      cfg,
		log:      log,
		provider: provider,
	}
	for _, opt := range opts {
		opt(o)
	}

	if cfg == nil || !cfg.Enabled {
		log.Debug("notifications disabled by configuration")
		return o, nil
	}

	if err := cfg.Validate(); err != nil {
		if cfg.FailOnInvalidConfig {
			return nil, err
		}
		log.Warn("invalid notification configuration, notifications disabled", "error", err)
		return o, nil
	}

	if o.tr == nil {
		tr, err := transport.New(cfg.Mode(), cfg, log)
		if err != nil {
			if cfg.FailOnInvalidConfig {
				return nil, err
			}
			log.Warn("transport setup failed, notifications disabled", "error", err)
			return o, nil
		}
		o.tr = tr
	}

	if cfg.ValidateOnStartup && !o.tr.Validate(ctx) {
		if cfg.FailOnInvalidConfig {
			return nil, transport.ErrNotConfigured
		}
		log.Warn("credential check failed, notifications disabled", "mode", cfg.Mode())
		return o, nil
	}

	o.builder = message.NewBuilder(cfg)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Warn("metric setup failed, continuing without metrics", "error", err)
	}
	o.metrics = metrics

	o.sessionID = provider.Facts().SessionID
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}

	o.active = true
	log.Info("notifications active", "mode", cfg.Mode(), "session_id", o.sessionID)
	return o, nil
}

// Active reports whether the Observer will deliver anything.
func (o *Observer) Active() bool {
	return o.active
}

// SessionID returns the run's session identifier. Empty when inactive.
func (o *Observer) SessionID() string {
	return o.sessionID
}

// withRun stamps the session ID into the context so log records and spans
// produced downstream carry it.
func (o *Observer) withRun(ctx context.Context) context.Context {
	if o.sessionID == "" {
		return ctx
	}
	return logger.WithRunID(ctx, o.sessionID)
}

// guard recovers a panic from a callback so it never reaches the host.
func (o *Observer) guard(where string) {
	if r := recover(); r != nil {
		o.log.Error("recovered panic in notification callback",
			"where", where, "panic", r, "stack", string(debug.Stack()))
	}
}

// facts snapshots run metadata, stamping in the session ID when the host
// does not supply one.
func (o *Observer) facts() flow.Facts {
	f := o.provider.Facts()
	if f.SessionID == "" {
		f.SessionID = o.sessionID
	}
	return f
}

// deliver sends one document through the transport with telemetry around it.
// The returned timestamp is empty on failure or for modes without one.
func (o *Observer) deliver(ctx context.Context, doc message.Document) string {
	if o.rewriter != nil {
		o.rewriter.RewriteDocument(ctx, &doc)
	}

	ctx, span := telemetry.StartDeliverySpan(ctx, string(doc.Kind), o.tr.Name())
	defer span.End()

	begin := time.Now()
	ts, err := o.tr.SendMessage(ctx, doc)
	o.recordDelivery(ctx, err, time.Since(begin))
	if err != nil {
		return ""
	}
	return ts
}

func (o *Observer) recordDelivery(ctx context.Context, err error, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.NotificationsFailed.Add(ctx, 1)
		return
	}
	o.metrics.NotificationsSent.Add(ctx, 1)
	o.metrics.DeliveryLatency.Record(ctx, elapsed.Seconds())
}
