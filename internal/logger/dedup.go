package logger

import "sync"

// Dedup suppresses repeated identical log lines within a run. Long
// pipelines can fail the same delivery thousands of times; only the first
// occurrence of each unique message is worth a log record.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDedup creates an empty Dedup set.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]struct{})}
}

// First reports whether msg has not been seen before, recording it.
func (d *Dedup) First(msg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[msg]; ok {
		return false
	}
	d.seen[msg] = struct{}{}
	return true
}

// Len returns the number of distinct messages recorded.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
