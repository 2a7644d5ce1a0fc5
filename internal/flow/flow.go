// Package flow defines the read-only workflow facts the host engine exposes
// to FlowRelay. Facts are snapshots: the coordinator re-reads the Provider at
// each lifecycle event and never mutates what it gets back.
package flow

import "time"

// Kind identifies a notification event.
type Kind string

const (
	KindStarted   Kind = "started"
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindProgress  Kind = "progress"
	KindCustom    Kind = "custom"
)

// Stats holds the host's task counters for a run.
type Stats struct {
	Submitted int `json:"submitted"`
	Succeeded int `json:"succeeded"`
	Cached    int `json:"cached"`
	Failed    int `json:"failed"`
}

// Facts is a point-in-time snapshot of run metadata.
// Zero values mean "not known yet"; consumers omit the matching output.
type Facts struct {
	RunName     string        `json:"run_name"`
	SessionID   string        `json:"session_id"`
	CommandLine string        `json:"command_line"`
	WorkDir     string        `json:"work_dir"`
	Profile     string        `json:"profile"`
	Revision    string        `json:"revision"`
	Start       time.Time     `json:"start"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	ErrorText   string        `json:"error_text"`
	FailedTask  string        `json:"failed_task"`
	Stats       Stats         `json:"stats"`
}

// Provider is implemented by the host engine (or a test double) to expose
// current run metadata.
type Provider interface {
	Facts() Facts
}

// ErrorRecord carries the host's error details into the flow-error callback.
type ErrorRecord struct {
	Message string `json:"message"`
	Task    string `json:"task"`
}

// FactsFunc adapts a plain function to the Provider interface.
type FactsFunc func() Facts

func (f FactsFunc) Facts() Facts { return f() }
