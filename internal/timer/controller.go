// Package timer runs the per-view countdown of an assessment session.
package timer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures a Controller.
type Config struct {
	// Remaining is the persisted time_remaining_seconds at start.
	Remaining int
	// Interval between ticks; defaults to one second.
	Interval time.Duration
	// Ticks overrides the internal ticker, mainly for tests.
	Ticks <-chan time.Time

	// OnTick receives the remaining seconds after every decrement.
	OnTick func(remaining int)
	// OnSnapshot receives the remaining seconds every SnapshotEvery ticks.
	OnSnapshot    func(remaining int)
	SnapshotEvery int
	// OnExpire finalizes the session. A returned error leaves the
	// controller running so the next tick retries.
	OnExpire func(ctx context.Context) error
}

// Controller decrements a countdown once per tick and fires OnExpire exactly
// once when it reaches zero.
type Controller struct {
	cfg       Config
	remaining atomic.Int64
	expiring  atomic.Bool
	ticks     int

	stopOnce sync.Once
	stop     chan struct{}
	doneOnce sync.Once
	done     chan struct{}
}

// New creates a Controller. Call Run to start it.
func New(cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Remaining < 0 {
		cfg.Remaining = 0
	}
	c := &Controller{
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c.remaining.Store(int64(cfg.Remaining))
	return c
}

// Run blocks until ctx is cancelled, Stop is called, or expiry succeeds.
func (c *Controller) Run(ctx context.Context) {
	ticks := c.cfg.Ticks
	if ticks == nil {
		t := time.NewTicker(c.cfg.Interval)
		defer t.Stop()
		ticks = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-c.done:
			return
		case _, ok := <-ticks:
			if !ok {
				return
			}
			c.tick(ctx)
		}
	}
}

func (c *Controller) tick(ctx context.Context) {
	remaining := c.remaining.Load()
	if remaining > 0 {
		remaining = c.remaining.Add(-1)
		if remaining < 0 {
			remaining = 0
			c.remaining.Store(0)
		}
		c.ticks++
		if c.cfg.OnTick != nil {
			c.cfg.OnTick(int(remaining))
		}
		if c.cfg.OnSnapshot != nil && c.cfg.SnapshotEvery > 0 && c.ticks%c.cfg.SnapshotEvery == 0 && remaining > 0 {
			c.cfg.OnSnapshot(int(remaining))
		}
	}
	if remaining == 0 {
		c.expire(ctx)
	}
}

// expire runs OnExpire off the tick loop. Overlapping ticks see the
// in-flight flag and skip.
func (c *Controller) expire(ctx context.Context) {
	if c.cfg.OnExpire == nil {
		c.finish()
		return
	}
	if !c.expiring.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := c.cfg.OnExpire(ctx); err != nil {
			c.expiring.Store(false)
			return
		}
		c.finish()
	}()
}

func (c *Controller) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Stop ends the countdown without expiring. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once expiry has succeeded.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Remaining returns the current countdown value.
func (c *Controller) Remaining() int {
	return int(c.remaining.Load())
}

// Correct lowers the countdown to n for drift correction. It never raises it.
func (c *Controller) Correct(n int) {
	if n < 0 {
		n = 0
	}
	for {
		cur := c.remaining.Load()
		if int64(n) >= cur {
			return
		}
		if c.remaining.CompareAndSwap(cur, int64(n)) {
			return
		}
	}
}
