package service

import (
	"context"
	"path/filepath"
	"time"

	"github.com/flowrelay/flowrelay/internal/flow"
	"github.com/flowrelay/flowrelay/internal/message"
	"github.com/flowrelay/flowrelay/internal/port/transport"
	"github.com/flowrelay/flowrelay/internal/telemetry"
)

// deepLinkRetry is how long to wait for a deep link that was not yet known
// at run start before giving up on enriching the start message.
const deepLinkRetry = 5 * time.Second

// OnFlowBegin announces the run. It posts the start notification, anchors
// the run's thread on it, marks it with the start reaction and schedules
// deep-link enrichment when the link is not known yet.
func (o *Observer) OnFlowBegin(ctx context.Context) {
	defer o.guard("flow_begin")
	if !o.active {
		return
	}
	ctx = o.withRun(ctx)

	o.mu.Lock()
	o.startAt = time.Now()
	// First progress update comes one full interval after start.
	o.lastSent = o.startAt
	o.mu.Unlock()

	if !o.cfg.OnStart.Enabled {
		return
	}

	facts := o.facts()
	link, deferred := o.lookupDeepLink(ctx, facts.SessionID)

	ts := o.deliver(ctx, o.builder.Start(facts, link))
	if ts == "" {
		return
	}

	o.mu.Lock()
	o.startTS = ts
	o.deepLink = link
	o.mu.Unlock()

	o.addReaction(ctx, o.cfg.Reactions.Start, ts)

	if deferred {
		o.scheduleEnrichment(facts)
	}
}

// OnFlowComplete delivers the terminal notification and finishes the run.
// The host fires flow-complete for cancelled and failed runs too; the facts
// success flag decides whether the run is reported as succeeded or failed.
func (o *Observer) OnFlowComplete(ctx context.Context) {
	defer o.guard("flow_complete")
	if !o.active {
		return
	}
	o.finish(ctx, o.facts().Success, flow.ErrorRecord{})
}

// OnFlowError delivers the failure notification and finishes the run.
func (o *Observer) OnFlowError(ctx context.Context, rec flow.ErrorRecord) {
	defer o.guard("flow_error")
	o.finish(ctx, false, rec)
}

// finish runs the terminal sequence exactly once: stop timers, reconcile
// counters, final progress update, reaction swap, terminal notification,
// file uploads.
func (o *Observer) finish(ctx context.Context, success bool, rec flow.ErrorRecord) {
	if !o.active || !o.terminalDone.CompareAndSwap(false, true) {
		return
	}
	ctx = o.withRun(ctx)

	o.mu.Lock()
	o.finished = true
	if o.pendingTick != nil {
		o.pendingTick.Stop()
		o.pendingTick = nil
	}
	if o.linkTimer != nil {
		o.linkTimer.Stop()
		o.linkTimer = nil
	}
	startTS := o.startTS
	startAt := o.startAt
	link := o.deepLink
	o.mu.Unlock()

	facts := o.facts()
	facts.Success = success
	if rec.Message != "" {
		facts.ErrorText = rec.Message
	}
	if rec.Task != "" {
		facts.FailedTask = rec.Task
	}
	if facts.Duration == 0 && !startAt.IsZero() {
		facts.Duration = time.Since(startAt)
	}

	// Host counters are authoritative at the end of the run.
	o.reconcileCounters(facts.Stats)
	o.finalProgress(ctx, facts.Stats, startAt)

	o.swapReaction(ctx, success, startTS)

	ev := o.cfg.OnComplete
	build := o.builder.Completed
	if !success {
		ev = o.cfg.OnError
		build = o.builder.Failed
	}

	if ev.Enabled {
		if link == "" {
			link, _ = o.lookupDeepLink(ctx, facts.SessionID)
		}
		doc := build(facts, link)
		if o.cfg.Threads {
			doc.ThreadTS = o.threadAnchor()
		}
		o.deliver(ctx, doc)
	}

	o.uploadFiles(ctx, ev.Files)
}

// swapReaction replaces the in-progress marker with the outcome marker on
// the start message. Best effort on both sides.
func (o *Observer) swapReaction(ctx context.Context, success bool, startTS string) {
	if !o.cfg.Reactions.Enabled || startTS == "" || !o.tr.Capabilities().Reactions {
		return
	}

	o.tr.RemoveReaction(ctx, o.cfg.Reactions.Start, startTS)
	emoji := o.cfg.Reactions.Success
	if !success {
		emoji = o.cfg.Reactions.Error
	}
	o.tr.AddReaction(ctx, emoji, startTS)
}

func (o *Observer) addReaction(ctx context.Context, emoji, ts string) {
	if !o.cfg.Reactions.Enabled || emoji == "" || !o.tr.Capabilities().Reactions {
		return
	}
	o.tr.AddReaction(ctx, emoji, ts)
}

// uploadFiles runs the configured uploads sequentially, threading them under
// the run's anchor message. A failed upload is logged by the transport and
// skipped.
func (o *Observer) uploadFiles(ctx context.Context, paths []string) {
	if len(paths) == 0 {
		return
	}
	if !o.tr.Capabilities().Uploads {
		o.log.WarnContext(ctx, "file uploads are not supported in this delivery mode, skipping",
			"mode", o.tr.Name(), "files", len(paths))
		return
	}

	threadTS := ""
	if o.cfg.Threads {
		threadTS = o.threadAnchor()
	}

	for _, path := range paths {
		ctx, span := telemetry.StartUploadSpan(ctx, filepath.Base(path))
		err := o.tr.UploadFile(ctx, transport.UploadRequest{
			Path:     path,
			ThreadTS: threadTS,
		})
		span.End()

		if err == nil && o.metrics != nil {
			o.metrics.FilesUploaded.Add(ctx, 1)
		}
	}
}

// lookupDeepLink asks the enricher for the run's URL. The second result is
// true when the link is not available yet but may become so, which schedules
// a late enrichment pass.
func (o *Observer) lookupDeepLink(ctx context.Context, sessionID string) (string, bool) {
	if !o.cfg.DeepLink || o.enricher == nil {
		return "", false
	}
	link, ok := o.enricher.DeepLink(ctx, sessionID)
	if !ok || link == "" {
		return "", true
	}
	return link, false
}

// scheduleEnrichment retries the deep-link lookup once, shortly after start,
// and edits the already-posted start message to include the button. Modes
// without live updates skip this quietly.
func (o *Observer) scheduleEnrichment(facts flow.Facts) {
	if !o.tr.Capabilities().LiveUpdate {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished {
		return
	}
	o.linkTimer = time.AfterFunc(deepLinkRetry, func() {
		defer o.guard("deep_link_enrichment")
		o.enrichStartMessage(context.Background(), facts)
	})
}

func (o *Observer) enrichStartMessage(ctx context.Context, facts flow.Facts) {
	link, ok := o.enricher.DeepLink(ctx, facts.SessionID)
	if !ok || link == "" {
		o.log.DebugContext(ctx, "deep link still unknown, start message left as posted")
		return
	}

	o.mu.Lock()
	if o.finished || o.startTS == "" {
		o.mu.Unlock()
		return
	}
	startTS := o.startTS
	o.deepLink = link
	o.mu.Unlock()

	doc := o.builder.Start(facts, link)
	o.updateMessage(ctx, startTS, doc)
}

func (o *Observer) updateMessage(ctx context.Context, ts string, doc message.Document) {
	if o.rewriter != nil {
		o.rewriter.RewriteDocument(ctx, &doc)
	}
	o.tr.UpdateMessage(ctx, ts, doc)
}

// Send delivers an ad-hoc plain-text message from pipeline code.
func (o *Observer) Send(ctx context.Context, text string) {
	defer o.guard("send")
	if !o.active || text == "" {
		return
	}
	ctx = o.withRun(ctx)

	doc := o.builder.Custom(text)
	o.threadDoc(&doc)
	o.deliver(ctx, doc)
}

// SendFields delivers an ad-hoc structured message from pipeline code.
func (o *Observer) SendFields(ctx context.Context, payload map[string]any) {
	defer o.guard("send_fields")
	if !o.active || len(payload) == 0 {
		return
	}
	ctx = o.withRun(ctx)

	doc := o.builder.CustomRich(payload)
	o.threadDoc(&doc)
	o.deliver(ctx, doc)
}

// UploadFile sends one file from pipeline code, threaded under the run.
func (o *Observer) UploadFile(ctx context.Context, path, title, comment string) {
	defer o.guard("upload_file")
	if !o.active {
		return
	}
	ctx = o.withRun(ctx)
	if !o.tr.Capabilities().Uploads {
		o.log.WarnContext(ctx, "file uploads are not supported in this delivery mode, skipping",
			"mode", o.tr.Name(), "path", path)
		return
	}

	threadTS := ""
	if o.cfg.Threads {
		threadTS = o.threadAnchor()
	}

	ctx, span := telemetry.StartUploadSpan(ctx, filepath.Base(path))
	defer span.End()
	err := o.tr.UploadFile(ctx, transport.UploadRequest{
		Path:     path,
		Title:    title,
		Comment:  comment,
		ThreadTS: threadTS,
	})
	if err == nil && o.metrics != nil {
		o.metrics.FilesUploaded.Add(ctx, 1)
	}
}

// threadDoc anchors a document under the run's anchor message when threading
// is on and an anchor exists.
func (o *Observer) threadDoc(doc *message.Document) {
	if !o.cfg.Threads {
		return
	}
	doc.ThreadTS = o.threadAnchor()
}

// threadAnchor returns the run's threading anchor: the start message when one
// was posted, otherwise the timestamp the transport captured from its first
// successful send. Empty when nothing has been delivered yet.
func (o *Observer) threadAnchor() string {
	o.mu.Lock()
	ts := o.startTS
	o.mu.Unlock()
	if ts == "" {
		ts = o.tr.ThreadTS()
	}
	return ts
}
