// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package scanner

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of filesystem events for the same path into a
// single callback invocation, fired delay after the last trigger. Grounded
// on the teacher's internal/drone/watcher.Debouncer, unchanged apart from
// becoming package-private (cortexd has one debounce use site, unlike the
// teacher's Manager which exported it for reuse elsewhere).
type debouncer struct {
	mu       sync.Mutex
	timers   map[string]*time.Timer
	callback func(string)
	delay    time.Duration
}

func newDebouncer(delay time.Duration, callback func(string)) *debouncer {
	return &debouncer{
		timers:   make(map[string]*time.Timer),
		callback: callback,
		delay:    delay,
	}
}

// trigger schedules or resets the pending callback for path.
func (d *debouncer) trigger(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[path]; exists {
		timer.Stop()
	}
	d.timers[path] = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		delete(d.timers, path)
		cb := d.callback
		d.mu.Unlock()
		if cb != nil {
			cb(path)
		}
	})
}

// cancel drops any pending callback for path.
func (d *debouncer) cancel(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, exists := d.timers[path]; exists {
		timer.Stop()
		delete(d.timers, path)
	}
}

// stop cancels every pending timer.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, timer := range d.timers {
		timer.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}
