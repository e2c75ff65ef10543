// Package buffer decouples rapid local edits from the cost of
// persisting on every change. A SectionBuffer holds the live working
// copy of one project's section and commits it to the repository after
// a quiet period, immediately on demand, or when the active project
// switches.
package buffer

import (
	"sync"
	"time"
)

// Debouncer coalesces rapid events into a single deferred call.
// Rapid successive calls reset the timer, so only the latest scheduled
// function runs.
type Debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	duration time.Duration
}

// NewDebouncer creates a debouncer with the specified quiet period.
func NewDebouncer(duration time.Duration) *Debouncer {
	return &Debouncer{duration: duration}
}

// Debounce schedules fn to run after the quiet period has elapsed
// without any new calls.
func (d *Debouncer) Debounce(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.duration, fn)
}

// Cancel cancels any pending call. Returns true if a call was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return false
	}
	stopped := d.timer.Stop()
	d.timer = nil
	return stopped
}

// Immediate cancels any pending call and executes fn right away.
func (d *Debouncer) Immediate(fn func()) {
	d.Cancel()
	fn()
}
