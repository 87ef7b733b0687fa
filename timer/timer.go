// timer/timer.go
package timer

import (
	"sync"
	"time"
)

// Ticker delivers ticks on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. The tick loop takes one so tests can drive it by hand.
type Clock interface {
	NewTicker(interval time.Duration) Ticker
}

// RealClock 基于 time.Ticker，慢的一轮会丢掉错过的 tick 而不是堆积
type RealClock struct{}

func (RealClock) NewTicker(interval time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(interval)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }

// ManualClock fires its tickers only when Advance is called.
type ManualClock struct {
	mutex   sync.Mutex
	now     time.Time
	tickers []*ManualTicker
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (m *ManualClock) NewTicker(interval time.Duration) Ticker {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t := &ManualTicker{
		interval: interval,
		c:        make(chan time.Time, 1),
	}
	m.tickers = append(m.tickers, t)
	return t
}

// Advance moves the clock forward by d and fires every live ticker whose
// interval fits in d. Like time.Ticker, a tick is dropped if the previous
// one has not been received yet.
func (m *ManualClock) Advance(d time.Duration) {
	m.mutex.Lock()
	m.now = m.now.Add(d)
	now := m.now
	tickers := make([]*ManualTicker, len(m.tickers))
	copy(tickers, m.tickers)
	m.mutex.Unlock()

	for _, t := range tickers {
		t.fire(now, d)
	}
}

// Tickers reports how many tickers were created, stopped or not.
func (m *ManualClock) Tickers() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.tickers)
}

type ManualTicker struct {
	mutex    sync.Mutex
	interval time.Duration
	elapsed  time.Duration
	stopped  bool
	c        chan time.Time
}

func (t *ManualTicker) C() <-chan time.Time { return t.c }

func (t *ManualTicker) Stop() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.stopped = true
}

func (t *ManualTicker) fire(now time.Time, d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.stopped {
		return
	}
	t.elapsed += d
	if t.elapsed < t.interval {
		return
	}
	t.elapsed = 0
	select {
	case t.c <- now:
	default:
	}
}
