// Package refresh runs the periodic poll-list refresh. A session that opens a
// voting dialog holds a pause token so a background fetch cannot swap in a
// stale list mid-submission; the token is scoped and released on every exit
// path, replacing the free-floating pause flag this design grew out of.
package refresh

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultInterval matches the portal's 30-second background refresh.
const DefaultInterval = 30 * time.Second

// Refresher invokes Fetch immediately on Run and then once per interval,
// skipping ticks while any pause token is held.
type Refresher struct {
	interval time.Duration
	fetch    func(ctx context.Context)

	mu     sync.Mutex
	paused int
}

// New returns a Refresher calling fetch every interval (DefaultInterval when
// interval <= 0).
func New(interval time.Duration, fetch func(ctx context.Context)) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Refresher{interval: interval, fetch: fetch}
}

// Run blocks until ctx is done, fetching once up front and then on each tick.
func (r *Refresher) Run(ctx context.Context) {
	r.tryFetch(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tryFetch(ctx)
		}
	}
}

// Pause suspends background fetches until the returned release func is
// called. Tokens stack: fetching resumes when the last holder releases.
// Release is idempotent.
func (r *Refresher) Pause() (release func()) {
	r.mu.Lock()
	r.paused++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.paused--
			if r.paused < 0 {
				log.Println("Refresher pause count went negative, resetting")
				r.paused = 0
			}
			r.mu.Unlock()
		})
	}
}

// Paused reports whether any pause token is currently held.
func (r *Refresher) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused > 0
}

func (r *Refresher) tryFetch(ctx context.Context) {
	if r.Paused() {
		return
	}
	r.fetch(ctx)
}
