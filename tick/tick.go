package tick

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/joysync/broadcast"
	"github.com/wfunc/joysync/logger"
	"github.com/wfunc/joysync/monitor"
	"github.com/wfunc/joysync/network"
	"github.com/wfunc/joysync/state"
	"github.com/wfunc/joysync/timer"
)

// DefaultInterval is roughly 60 passes per second.
const DefaultInterval = 16 * time.Millisecond

// Loop 单协程定时推进：clamp 全部玩家 -> 编码快照 -> 广播
type Loop struct {
	registry    *state.Registry
	broadcaster broadcast.Broadcaster
	clock       timer.Clock
	interval    time.Duration
	monitor     *monitor.Monitor

	encode func(state.Snapshot) ([]byte, error)

	seq       atomic.Uint64
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	closeChan chan struct{}
	done      chan struct{}
}

// NewLoop wires a loop; a nil clock means the wall clock and a non-positive
// interval means DefaultInterval.
func NewLoop(registry *state.Registry, broadcaster broadcast.Broadcaster, clock timer.Clock, interval time.Duration, mon *monitor.Monitor) *Loop {
	if clock == nil {
		clock = timer.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{
		registry:    registry,
		broadcaster: broadcaster,
		clock:       clock,
		interval:    interval,
		monitor:     mon,
		encode:      network.EncodeState,
		closeChan:   make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the ticking goroutine. Calling it more than once is a no-op.
func (l *Loop) Start() {
	l.startOnce.Do(func() {
		l.started.Store(true)
		ticker := l.clock.NewTicker(l.interval)
		go l.run(ticker)
	})
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.closeChan)
	})
	if l.started.Load() {
		<-l.done
	}
}

func (l *Loop) run(ticker timer.Ticker) {
	defer close(l.done)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			l.Step()
		case <-l.closeChan:
			return
		}
	}
}

// Step runs one pass. An encoding failure skips the broadcast for this tick.
func (l *Loop) Step() error {
	start := time.Now()
	snap := l.registry.Tick()

	payload, err := l.encode(snap)
	if err != nil {
		logger.Log.Errorf("Tick %d skipped, failed to encode state: %v", l.seq.Load(), err)
		return err
	}

	l.broadcaster.Broadcast(payload)
	l.seq.Add(1)
	l.monitor.SetOnlinePlayers(len(snap))
	l.monitor.ObserveTick(time.Since(start))
	return nil
}

// Seq reports how many passes have broadcast successfully.
func (l *Loop) Seq() uint64 {
	return l.seq.Load()
}

func (l *Loop) Interval() time.Duration {
	return l.interval
}
