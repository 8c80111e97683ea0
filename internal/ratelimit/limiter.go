// Package ratelimit provides per-identity fixed-window admission control.
// Bursts at window boundaries are an accepted tradeoff for O(1) bookkeeping.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/placepin/placepin/internal/telemetry"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // remaining window time when rejected
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// Limiter admits up to maxAllowed requests per identity per timeframe.
// Windows are created lazily and expire by inactivity.
type Limiter struct {
	mu      sync.RWMutex
	windows map[int64]*window

	maxAllowed int
	timeframe  time.Duration
	clock      clockwork.Clock
}

// New creates a limiter using the wall clock.
func New(maxAllowed int, timeframe time.Duration) *Limiter {
	return NewWithClock(maxAllowed, timeframe, clockwork.NewRealClock())
}

// NewWithClock creates a limiter with an injectable clock for tests.
func NewWithClock(maxAllowed int, timeframe time.Duration, clock clockwork.Clock) *Limiter {
	return &Limiter{
		windows:    make(map[int64]*window),
		maxAllowed: maxAllowed,
		timeframe:  timeframe,
		clock:      clock,
	}
}

// Admit checks whether the identity may issue another request. Admissions
// for distinct identities never contend on the same lock; concurrent admits
// for one identity serialize on its window.
func (l *Limiter) Admit(identity int64) Decision {
	w := l.getWindow(identity)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(w.start) >= l.timeframe {
		w.start = now
		w.count = 1
		return Decision{Allowed: true}
	}

	w.count++
	if w.count > l.maxAllowed {
		return Decision{
			Allowed:    false,
			RetryAfter: w.start.Add(l.timeframe).Sub(now),
		}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) getWindow(identity int64) *window {
	l.mu.RLock()
	w, exists := l.windows[identity]
	l.mu.RUnlock()
	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, exists = l.windows[identity]; !exists {
		// New windows start already expired so the first Admit opens them.
		w = &window{start: l.clock.Now().Add(-l.timeframe)}
		l.windows[identity] = w
	}
	return w
}

// Reap drops windows whose timeframe has fully elapsed.
func (l *Limiter) Reap() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for identity, w := range l.windows {
		w.mu.Lock()
		expired := now.Sub(w.start) >= l.timeframe
		w.mu.Unlock()
		if expired {
			delete(l.windows, identity)
			reaped++
		}
	}
	return reaped
}

// StartReaper periodically reaps idle windows until the context is done.
func (l *Limiter) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := l.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if n := l.Reap(); n > 0 {
					telemetry.LogFromContext(ctx).
						WithField("reaped_windows", n).
						Debug("rate limiter reaped idle windows")
				}
			}
		}
	}()
}

// Len returns the number of tracked windows.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}
