// Package deadline computes time left on an attempt and auto-finishes it when
// the limit runs out.
package deadline

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultTick is the recompute interval of a Watcher.
const DefaultTick = 250 * time.Millisecond

// Remaining returns whole seconds left on a limit counted from startedAt.
// ok is false when there is no limit. The value goes negative after expiry.
func Remaining(limitMinutes *float64, startedAt, now time.Time) (seconds int, ok bool) {
	if limitMinutes == nil || *limitMinutes <= 0 || startedAt.IsZero() {
		return 0, false
	}
	elapsed := math.Floor(now.Sub(startedAt).Seconds())
	return int(math.Floor(*limitMinutes*60 - elapsed)), true
}

// FormatClock renders seconds as HH:MM:SS. Negative values render as zero.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, (seconds%3600)/60, seconds%60)
}

// WatcherConfig describes one attempt's countdown.
type WatcherConfig struct {
	Limit     *float64
	StartedAt time.Time
	Tick      time.Duration
	Now       func() time.Time
	// OnTick receives the remaining seconds on every tick.
	OnTick func(remaining int)
	// OnExpire runs at most once, from the watcher goroutine.
	OnExpire func()
}

// Watcher recomputes the remaining time from the fixed start on every tick,
// so suspended or throttled hosts catch up on the next tick.
type Watcher struct {
	cfg      WatcherConfig
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	expired  atomic.Bool
}

// NewWatcher fills in defaults. Call Start to begin ticking.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watcher{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the tick loop. Without a limit it returns at once and the
// watcher stays idle.
func (w *Watcher) Start() {
	if _, ok := Remaining(w.cfg.Limit, w.cfg.StartedAt, w.cfg.Now()); !ok {
		close(w.done)
		return
	}
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if _, expired := w.Check(); expired {
				return
			}
		}
	}
}

// Check evaluates the deadline once, publishing a tick and firing OnExpire
// when time is up. It reports whether the deadline has passed.
func (w *Watcher) Check() (remaining int, expired bool) {
	remaining, ok := Remaining(w.cfg.Limit, w.cfg.StartedAt, w.cfg.Now())
	if !ok {
		return 0, false
	}
	if w.cfg.OnTick != nil {
		w.cfg.OnTick(remaining)
	}
	if remaining > 0 {
		return remaining, false
	}
	if w.expired.CompareAndSwap(false, true) && w.cfg.OnExpire != nil {
		w.cfg.OnExpire()
	}
	return remaining, true
}

// Stop ends the tick loop. It never blocks, so OnExpire may call it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once the tick loop has exited.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}
