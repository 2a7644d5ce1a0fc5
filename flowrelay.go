// Package flowrelay relays workflow lifecycle events to Slack. The host
// engine constructs one Relay per run, feeds it the lifecycle callbacks, and
// pipeline code can send ad-hoc messages and files through the package-level
// functions while a run is registered.
//
// A Relay is strictly best effort. Whatever goes wrong on the messaging
// side, the host pipeline keeps running; the only exception is
// fail_on_invalid_config, which turns a broken configuration into a
// construction error.
package flowrelay

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/flowrelay/flowrelay/internal/config"
	"github.com/flowrelay/flowrelay/internal/flow"
	"github.com/flowrelay/flowrelay/internal/logger"
	"github.com/flowrelay/flowrelay/internal/mention"
	"github.com/flowrelay/flowrelay/internal/port/enrich"
	"github.com/flowrelay/flowrelay/internal/service"

	// Delivery modes register themselves with the transport registry.
	_ "github.com/flowrelay/flowrelay/internal/adapter/slackbot"
	_ "github.com/flowrelay/flowrelay/internal/adapter/slackwebhook"
)

// Options controls Relay construction.
type Options struct {
	// ConfigFile is the YAML configuration path. Defaults to
	// config.DefaultConfigFile when empty.
	ConfigFile string

	// Config is the host engine's already-resolved configuration scope.
	// When set it takes the place of the YAML file; environment variables
	// still apply on top.
	Config map[string]any

	// DeepLink supplies the run's monitoring URL, possibly later than
	// run start.
	DeepLink enrich.Provider
}

// Relay is one run's notification pipeline.
type Relay struct {
	obs      *service.Observer
	log      *slog.Logger
	closeLog logger.Closer
	resolver *mention.Resolver
}

// New builds a Relay for one run. An invalid or disabled configuration
// yields an inert Relay (and a warning in the log) unless
// fail_on_invalid_config is set, in which case the error is returned for
// the host to abort on.
func New(ctx context.Context, provider flow.Provider, opts Options) (*Relay, error) {
	cfg, cfgErr := loadConfig(opts)

	logCfg := config.Defaults().Logging
	if cfg != nil {
		logCfg = cfg.Logging
	}
	log, closeLog := logger.New(logCfg)

	if cfg == nil {
		log.Warn("configuration could not be parsed, notifications disabled", "error", cfgErr)
		obs, _ := service.New(ctx, nil, provider, log)
		return &Relay{obs: obs, log: log, closeLog: closeLog}, nil
	}

	r := &Relay{log: log, closeLog: closeLog}

	svcOpts := []service.Option{}
	if opts.DeepLink != nil {
		svcOpts = append(svcOpts, service.WithEnricher(opts.DeepLink))
	}

	if cfg.Enabled && cfg.Mode() == config.ModeBot && cfgErr == nil {
		api := slack.New(cfg.BotToken, slack.OptionHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   30 * time.Second,
		}))
		resolver, err := mention.New(api, log)
		if err != nil {
			log.Warn("mention resolution unavailable", "error", err)
		} else {
			r.resolver = resolver
			svcOpts = append(svcOpts, service.WithRewriter(resolver))
		}
	}

	obs, err := service.New(ctx, cfg, provider, log, svcOpts...)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.obs = obs
	return r, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.Config != nil {
		return config.FromMap(opts.Config)
	}
	path := opts.ConfigFile
	if path == "" {
		path = config.DefaultConfigFile
	}
	return config.LoadFrom(path)
}

// Active reports whether this Relay will deliver anything.
func (r *Relay) Active() bool {
	return r.obs != nil && r.obs.Active()
}

// SessionID returns the run's session identifier. Empty when inactive.
func (r *Relay) SessionID() string {
	if r.obs == nil {
		return ""
	}
	return r.obs.SessionID()
}

// OnFlowBegin announces the run start.
func (r *Relay) OnFlowBegin(ctx context.Context) {
	r.obs.OnFlowBegin(ctx)
}

// OnTaskSubmitted records a task entering the executor.
func (r *Relay) OnTaskSubmitted(ctx context.Context) {
	r.obs.OnTaskSubmitted(ctx)
}

// OnTaskCompleted records a successful task.
func (r *Relay) OnTaskCompleted(ctx context.Context) {
	r.obs.OnTaskCompleted(ctx)
}

// OnTaskCached records a task satisfied from the cache.
func (r *Relay) OnTaskCached(ctx context.Context) {
	r.obs.OnTaskCached(ctx)
}

// OnTaskFailed records a failed task.
func (r *Relay) OnTaskFailed(ctx context.Context) {
	r.obs.OnTaskFailed(ctx)
}

// OnFlowComplete announces a successful run end.
func (r *Relay) OnFlowComplete(ctx context.Context) {
	r.obs.OnFlowComplete(ctx)
}

// OnFlowError announces a failed run end.
func (r *Relay) OnFlowError(ctx context.Context, rec flow.ErrorRecord) {
	r.obs.OnFlowError(ctx, rec)
}

// Send delivers an ad-hoc plain-text message through this Relay.
func (r *Relay) Send(ctx context.Context, text string) {
	r.obs.Send(ctx, text)
}

// SendFields delivers an ad-hoc structured message (keys: text, color,
// fields) through this Relay.
func (r *Relay) SendFields(ctx context.Context, payload map[string]any) {
	r.obs.SendFields(ctx, payload)
}

// UploadFile sends one file through this Relay, threaded under the run.
func (r *Relay) UploadFile(ctx context.Context, path, title, comment string) {
	r.obs.UploadFile(ctx, path, title, comment)
}

// Close flushes buffered log records and releases caches. It does not send
// anything; terminal notifications happen in OnFlowComplete and OnFlowError.
func (r *Relay) Close() {
	if r.resolver != nil {
		r.resolver.Close()
	}
	if r.closeLog != nil {
		r.closeLog.Close()
	}
}

// active is the Relay pipeline code reaches through the package-level
// functions. At most one run is registered at a time.
var active atomic.Pointer[Relay]

// Register makes r the target of the package-level send functions.
func Register(r *Relay) {
	active.Store(r)
}

// Unregister detaches the active Relay. Safe to call when none is set.
func Unregister() {
	active.Store(nil)
}

// Send delivers an ad-hoc plain-text message through the active Relay.
// A silent no-op when no run is registered.
func Send(ctx context.Context, text string) {
	if r := active.Load(); r != nil {
		r.Send(ctx, text)
	}
}

// SendFields delivers an ad-hoc structured message through the active Relay.
// A silent no-op when no run is registered.
func SendFields(ctx context.Context, payload map[string]any) {
	if r := active.Load(); r != nil {
		r.SendFields(ctx, payload)
	}
}

// UploadFile sends one file through the active Relay. A silent no-op when no
// run is registered.
func UploadFile(ctx context.Context, path, title, comment string) {
	if r := active.Load(); r != nil {
		r.UploadFile(ctx, path, title, comment)
	}
}
