package calltimer

import (
	"sync"
	"time"
)

// Manual is a Ticker driven by hand, for deterministic timing.
type Manual struct {
	ch      chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func NewManual() *Manual {
	return &Manual{
		ch:      make(chan time.Time),
		stopped: make(chan struct{}),
	}
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Stop() {
	m.once.Do(func() { close(m.stopped) })
}

// Tick delivers one tick and blocks until the timer takes it. It reports false
// once the ticker has been stopped.
func (m *Manual) Tick() bool {
	select {
	case <-m.stopped:
		return false
	default:
	}
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	}
}

// Func hands out m for every ticker request.
func (m *Manual) Func() TickerFunc {
	return func(time.Duration) Ticker { return m }
}
