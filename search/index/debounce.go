package index

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of Trigger calls into one call of fn. fn runs
// once wait has passed without a new trigger, and at the latest maxWait after
// the first trigger of a burst.
type Debouncer struct {
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	mu       sync.Mutex
	pending  bool
	gen      uint64 // bumped by every Trigger
	epoch    uint64 // bumped by every flush
	trailing *time.Timer
	ceiling  *time.Timer
	stopped  bool
}

// NewDebouncer returns an idle debouncer.
func NewDebouncer(wait, maxWait time.Duration, fn func()) *Debouncer {
	if maxWait < wait {
		maxWait = wait
	}
	return &Debouncer{wait: wait, maxWait: maxWait, fn: fn}
}

// Trigger (re)starts the trailing timer and arms the ceiling if needed.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending = true
	d.gen++
	gen := d.gen
	if d.trailing != nil {
		d.trailing.Stop()
	}
	d.trailing = time.AfterFunc(d.wait, func() {
		d.fire(func() bool { return d.gen == gen })
	})

	if d.ceiling == nil {
		epoch := d.epoch
		d.ceiling = time.AfterFunc(d.maxWait, func() {
			d.fire(func() bool { return d.epoch == epoch })
		})
	}
}

// Pending reports whether a call of fn is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Flush runs fn now if a call is pending.
func (d *Debouncer) Flush() {
	d.fire(func() bool { return true })
}

// Cancel drops a pending call and reports whether there was one.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	was := d.pending
	d.reset()
	return was
}

// Stop cancels any pending call. Later triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.reset()
}

// fire runs fn when a call is pending and the timer that fired is current.
func (d *Debouncer) fire(current func() bool) {
	d.mu.Lock()
	if !d.pending || !current() {
		d.mu.Unlock()
		return
	}
	d.reset()
	d.mu.Unlock()

	d.fn()
}

// reset must be called with mu held.
func (d *Debouncer) reset() {
	d.pending = false
	d.epoch++
	if d.trailing != nil {
		d.trailing.Stop()
		d.trailing = nil
	}
	if d.ceiling != nil {
		d.ceiling.Stop()
		d.ceiling = nil
	}
}
