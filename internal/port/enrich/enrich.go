// Package enrich defines the source of run deep links. The link to a
// monitoring UI for a run often only becomes known shortly after launch,
// so lookups may legitimately return nothing at first.
package enrich

import (
	"context"
	"strings"
)

// Provider yields a browsable URL for a run once one is known.
type Provider interface {
	// DeepLink returns the URL for the given run session and whether
	// one is available yet.
	DeepLink(ctx context.Context, sessionID string) (string, bool)
}

// Static always serves the same URL template with the session ID
// substituted for "{id}".
type Static struct {
	Template string
}

func (s Static) DeepLink(ctx context.Context, sessionID string) (string, bool) {
	if s.Template == "" {
		return "", false
	}
	return strings.ReplaceAll(s.Template, "{id}", sessionID), true
}

// Func adapts a plain function to the Provider interface.
type Func func(ctx context.Context, sessionID string) (string, bool)

func (f Func) DeepLink(ctx context.Context, sessionID string) (string, bool) {
	return f(ctx, sessionID)
}
