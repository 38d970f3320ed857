package internal

import (
	"sync"
	"time"
)

// refresher coalesces bursts of Trigger calls into one fn call, delay after
// the last trigger.
type refresher struct {
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newRefresher(delay time.Duration, fn func()) *refresher {
	return &refresher{delay: delay, fn: fn}
}

func (r *refresher) Trigger() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.delay, r.fn)
}

// Stop cancels a pending call. Later triggers are ignored.
func (r *refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
	}
}
