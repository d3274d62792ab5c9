package adapter

import (
	"sync"
	"time"
)

// FakeClock is a manually controlled Clock for tests. Time does not move
// unless the test advances it. Tickers created from a FakeClock never fire on
// their own; tests push ticks through Tick().
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a FakeClock pinned at the given instant.
func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Since(t time.Time) time.Duration {
	return c.Now().Sub(t)
}

// Advance moves the fake time forward.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SetNow pins the fake time to an absolute instant.
func (c *FakeClock) SetNow(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Sleep returns immediately; fake time is test-driven.
func (c *FakeClock) Sleep(d time.Duration) {}

// After returns an already-fired channel carrying the advanced time.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.Now().Add(d)
	return ch
}

func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	return &FakeTicker{ch: make(chan time.Time, 1)}
}

// FakeTicker is a Ticker driven by the test through Tick().
type FakeTicker struct {
	ch chan time.Time
}

func (t *FakeTicker) Chan() <-chan time.Time { return t.ch }
func (t *FakeTicker) Stop()                  {}

// Tick delivers one tick carrying the given time.
func (t *FakeTicker) Tick(now time.Time) { t.ch <- now }
