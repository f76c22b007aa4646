package socketio

import (
	"sync"
	"time"
)

// BroadcastDebouncer collapses rapid per-partition events into one
// broadcast per partition. Every trigger restarts that partition's window.
type BroadcastDebouncer struct {
	window   time.Duration
	callback func(partition string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
}

// NewBroadcastDebouncer creates a debouncer calling callback once per
// partition after window passes without further triggers.
func NewBroadcastDebouncer(window time.Duration, callback func(partition string)) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:   window,
		callback: callback,
		timers:   make(map[string]*time.Timer),
	}
}

// Trigger records a change on partition.
func (d *BroadcastDebouncer) Trigger(partition string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if t, ok := d.timers[partition]; ok {
		t.Stop()
	}
	d.timers[partition] = time.AfterFunc(d.window, func() { d.flush(partition) })
}

func (d *BroadcastDebouncer) flush(partition string) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	delete(d.timers, partition)
	d.mu.Unlock()

	if d.callback != nil {
		d.callback(partition)
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for partition, t := range d.timers {
		t.Stop()
		delete(d.timers, partition)
	}
}
