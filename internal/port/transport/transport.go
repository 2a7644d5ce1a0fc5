// Package transport defines the delivery port (interface) and capabilities.
package transport

import (
	"context"
	"errors"

	"github.com/flowrelay/flowrelay/internal/message"
)

// ErrNotConfigured is returned when a transport is not properly configured.
var ErrNotConfigured = errors.New("transport: not configured")

// ErrUnsupported is returned by operations a delivery mode cannot perform
// (e.g. uploads over a webhook). Callers treat it as a logged no-op.
var ErrUnsupported = errors.New("transport: operation not supported in this mode")

// Capabilities declares which features a delivery mode supports.
type Capabilities struct {
	LiveUpdate bool `json:"live_update"`
	Reactions  bool `json:"reactions"`
	Uploads    bool `json:"uploads"`
	Threads    bool `json:"threads"`
}

// UploadRequest describes one file upload to the platform.
type UploadRequest struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Comment  string `json:"comment"`
	ThreadTS string `json:"thread_ts"`
}

// Transport delivers formatted documents and files to the messaging
// platform. Implementations log every failure locally (with de-duplication)
// before returning it; callers may treat returned errors as advisory and
// must never escalate them into the host pipeline.
type Transport interface {
	// Name returns the delivery mode identifier (e.g. "bot", "webhook").
	Name() string

	// Capabilities returns what this delivery mode supports.
	Capabilities() Capabilities

	// SendMessage delivers a document and returns the platform timestamp
	// of the posted message, when the mode exposes one.
	SendMessage(ctx context.Context, doc message.Document) (string, error)

	// UpdateMessage edits an already-posted message in place.
	UpdateMessage(ctx context.Context, ts string, doc message.Document) error

	// AddReaction and RemoveReaction manage an emoji on a posted message.
	AddReaction(ctx context.Context, emoji, ts string) error
	RemoveReaction(ctx context.Context, emoji, ts string) error

	// UploadFile runs the platform's file-upload protocol.
	UploadFile(ctx context.Context, req UploadRequest) error

	// Validate reports whether the configured identity can reach the
	// platform. Modes without an identity return true unconditionally.
	Validate(ctx context.Context) bool

	// ThreadTS returns the run's threading anchor: the timestamp of the
	// first successfully posted message. Empty until one exists.
	ThreadTS() string
}
