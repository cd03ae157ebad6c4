// Package ratelimit tracks per-key event churn and exposes explicit
// block/release transitions. The reconciliation engine keys entries by
// "deviceID:interfaceID" to damp noisy public-address changes.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result reports the outcome of one Use call.
type Result struct {
	// Allowed is false while the key is blocked.
	Allowed bool
	// BlockedNow is true exactly on the call that transitions the key
	// into the blocked state.
	BlockedNow bool
	// ReleasedNow is true exactly on the call that observes the block
	// expiring.
	ReleasedNow bool
}

type entry struct {
	events  []time.Time
	blocked bool
}

// Limiter counts events per key within a sliding window. A key blocks
// when it reaches Limit events inside Window and releases once a full
// window passes without churn.
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewLimiter creates a limiter blocking keys at limit events per window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source. Tests use this to step through
// windows without sleeping.
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func (e *entry) prune(cutoff time.Time) {
	keep := e.events[:0]
	for _, t := range e.events {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	e.events = keep
}

// Use records one event for key and returns the resulting state.
func (l *Limiter) Use(key string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}

	now := l.now()
	e.prune(now.Add(-l.window))

	wasBlocked := e.blocked
	if wasBlocked && len(e.events) == 0 {
		e.blocked = false
	}

	e.events = append(e.events, now)
	if !e.blocked && len(e.events) >= l.limit {
		e.blocked = true
	}

	return Result{
		Allowed:     !e.blocked,
		BlockedNow:  !wasBlocked && e.blocked,
		ReleasedNow: wasBlocked && !e.blocked,
	}
}

// IsBlocked reports whether key is currently blocked. A block that has
// aged out a full quiet window is released in place.
func (l *Limiter) IsBlocked(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return false
	}
	e.prune(l.now().Add(-l.window))
	if e.blocked && len(e.events) == 0 {
		e.blocked = false
	}
	return e.blocked
}

// Reset clears the state for a specific key
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// CleanupExpired removes keys that have been quiet longer than maxAge.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	for key, e := range l.entries {
		if len(e.events) == 0 || !e.events[len(e.events)-1].After(cutoff) {
			delete(l.entries, key)
		}
	}
}

// StartCleanup starts a background goroutine that prunes quiet keys
// until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.CleanupExpired(maxAge)
			}
		}
	}()
}
