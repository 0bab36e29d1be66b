// Package timeutil lets time-driven code run against a real or a manual clock.
package timeutil

import (
	"sort"
	"sync"
	"time"
)

// Clock is the subset of the time package the pipeline, replay and
// simulator depend on.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker mirrors *time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
	Reset(d time.Duration)
}

// RealClock is backed by the time package.
type RealClock struct{}

func (RealClock) Now() time.Time                         { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (RealClock) NewTicker(d time.Duration) Ticker {
	return realTicker{time.NewTicker(d)}
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time   { return r.t.C }
func (r realTicker) Stop()                 { r.t.Stop() }
func (r realTicker) Reset(d time.Duration) { r.t.Reset(d) }

// MockClock only moves when Set or Advance is called. Timers and tickers
// fire during those calls; channel sends never block, so a ticker that is
// not drained skips ticks like a real one.
type MockClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	at     time.Time
	period time.Duration // zero for one-shot
	ch     chan time.Time
	done   bool
}

func NewMockClock(t time.Time) *MockClock {
	return &MockClock{now: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

// Set moves the clock to t and fires everything due by then, in order.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t

	sort.SliceStable(c.waiters, func(i, j int) bool { return c.waiters[i].at.Before(c.waiters[j].at) })
	live := c.waiters[:0]
	for _, w := range c.waiters {
		for !w.done && !w.at.After(t) {
			select {
			case w.ch <- w.at:
			default:
			}
			if w.period == 0 {
				w.done = true
				break
			}
			w.at = w.at.Add(w.period)
		}
		if !w.done {
			live = append(live, w)
		}
	}
	c.waiters = live
}

// Waiters is the number of pending timers and tickers.
func (c *MockClock) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *MockClock) add(w *waiter, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w.at = c.now.Add(d)
	c.waiters = append(c.waiters, w)
}

func (c *MockClock) After(d time.Duration) <-chan time.Time {
	w := &waiter{ch: make(chan time.Time, 1)}
	if d <= 0 {
		w.ch <- c.Now()
		return w.ch
	}
	c.add(w, d)
	return w.ch
}

func (c *MockClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("timeutil: non-positive interval for NewTicker")
	}
	w := &waiter{period: d, ch: make(chan time.Time, 1)}
	c.add(w, d)
	return &mockTicker{c: c, w: w}
}

type mockTicker struct {
	c *MockClock
	w *waiter
}

func (t *mockTicker) C() <-chan time.Time { return t.w.ch }

func (t *mockTicker) Stop() {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.w.done = true
	t.c.prune()
}

func (t *mockTicker) Reset(d time.Duration) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	t.w.period = d
	t.w.at = t.c.now.Add(d)
	if t.w.done {
		t.w.done = false
		t.c.waiters = append(t.c.waiters, t.w)
	}
}

func (c *MockClock) prune() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.done {
			live = append(live, w)
		}
	}
	c.waiters = live
}
