package service

import (
	"context"
	"time"

	"github.com/flowrelay/flowrelay/internal/flow"
)

// OnTaskSubmitted records a task entering the executor.
func (o *Observer) OnTaskSubmitted(ctx context.Context) {
	defer o.guard("task_submitted")
	o.submitted.Add(1)
	o.bumpProgress(ctx)
}

// OnTaskCompleted records a task finishing successfully.
func (o *Observer) OnTaskCompleted(ctx context.Context) {
	defer o.guard("task_completed")
	o.succeeded.Add(1)
	o.bumpProgress(ctx)
}

// OnTaskCached records a task satisfied from the cache.
func (o *Observer) OnTaskCached(ctx context.Context) {
	defer o.guard("task_cached")
	o.cached.Add(1)
	o.bumpProgress(ctx)
}

// OnTaskFailed records a task failure.
func (o *Observer) OnTaskFailed(ctx context.Context) {
	defer o.guard("task_failed")
	o.failed.Add(1)
	o.bumpProgress(ctx)
}

// stats reads the running counters.
func (o *Observer) stats() flow.Stats {
	return flow.Stats{
		Submitted: int(o.submitted.Load()),
		Succeeded: int(o.succeeded.Load()),
		Cached:    int(o.cached.Load()),
		Failed:    int(o.failed.Load()),
	}
}

// reconcileCounters overwrites the running counters with the host's final
// numbers so the last rendered state never disagrees with the run report.
func (o *Observer) reconcileCounters(s flow.Stats) {
	o.submitted.Store(int64(s.Submitted))
	o.succeeded.Store(int64(s.Succeeded))
	o.cached.Store(int64(s.Cached))
	o.failed.Store(int64(s.Failed))
}

// bumpProgress is called on every counter change. At most one progress
// delivery happens per configured interval: a burst of task events inside
// one window coalesces into a single trailing update whose numbers are read
// at delivery time, not at event time. Progress needs a transport that can
// edit posted messages; modes without live updates get no progress at all.
func (o *Observer) bumpProgress(ctx context.Context) {
	if !o.active || o.cfg.Progress.Interval <= 0 || !o.tr.Capabilities().LiveUpdate {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.finished || o.pendingTick != nil {
		return
	}

	interval := o.cfg.Progress.Interval
	elapsed := time.Since(o.lastSent)
	if o.lastSent.IsZero() || elapsed >= interval {
		o.lastSent = time.Now()
		go o.sendProgress(context.WithoutCancel(ctx))
		return
	}

	o.pendingTick = time.AfterFunc(interval-elapsed, func() {
		defer o.guard("progress_tick")

		o.mu.Lock()
		o.pendingTick = nil
		if o.finished {
			o.mu.Unlock()
			return
		}
		o.lastSent = time.Now()
		o.mu.Unlock()

		o.sendProgress(context.Background())
	})
}

// sendProgress posts the first progress line and edits it in place on every
// later tick.
func (o *Observer) sendProgress(ctx context.Context) {
	o.mu.Lock()
	startAt := o.startAt
	progressTS := o.progressTS
	finished := o.finished
	o.mu.Unlock()
	if finished {
		return
	}

	doc := o.builder.Progress(o.stats(), time.Since(startAt))
	if o.cfg.Threads {
		doc.ThreadTS = o.threadAnchor()
	}

	if progressTS != "" {
		o.updateMessage(ctx, progressTS, doc)
		o.countProgress(ctx)
		return
	}

	ts, err := o.tr.SendMessage(ctx, doc)
	if err != nil {
		return
	}
	o.countProgress(ctx)
	if ts == "" {
		return
	}

	o.mu.Lock()
	if o.progressTS == "" {
		o.progressTS = ts
	}
	o.mu.Unlock()
}

// finalProgress rewrites the progress message with the reconciled terminal
// counters so it does not end on a stale mid-run state.
func (o *Observer) finalProgress(ctx context.Context, s flow.Stats, startAt time.Time) {
	if o.cfg.Progress.Interval <= 0 {
		return
	}

	o.mu.Lock()
	progressTS := o.progressTS
	o.mu.Unlock()
	if progressTS == "" || !o.tr.Capabilities().LiveUpdate {
		return
	}

	elapsed := time.Duration(0)
	if !startAt.IsZero() {
		elapsed = time.Since(startAt)
	}
	doc := o.builder.Progress(s, elapsed)
	if o.cfg.Threads {
		doc.ThreadTS = o.threadAnchor()
	}
	o.updateMessage(ctx, progressTS, doc)
}

func (o *Observer) countProgress(ctx context.Context) {
	if o.metrics != nil {
		o.metrics.ProgressUpdates.Add(ctx, 1)
	}
}
