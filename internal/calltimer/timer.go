// Package calltimer counts the seconds of an answered call.
package calltimer

import (
	"fmt"
	"sync"
	"time"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type TickerFunc func(d time.Duration) Ticker

type stdTicker struct{ t *time.Ticker }

func (s stdTicker) C() <-chan time.Time { return s.t.C }
func (s stdTicker) Stop()               { s.t.Stop() }

func NewStdTicker(d time.Duration) Ticker {
	return stdTicker{t: time.NewTicker(d)}
}

type Option func(*Timer)

func WithTicker(f TickerFunc) Option {
	return func(t *Timer) { t.newTicker = f }
}

// WithOnTick registers a callback invoked with the new value after every tick.
func WithOnTick(fn func(seconds int)) Option {
	return func(t *Timer) { t.onTick = fn }
}

// Timer is a one-second counter with at most one running interval.
type Timer struct {
	mu        sync.Mutex
	seconds   int
	stop      chan struct{}
	newTicker TickerFunc
	onTick    func(int)
}

func New(opts ...Option) *Timer {
	t := &Timer{newTicker: NewStdTicker}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins counting. It reports false when the timer is already running.
func (t *Timer) Start() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop != nil {
		return false
	}
	stop := make(chan struct{})
	t.stop = stop
	go t.run(t.newTicker(time.Second), stop)
	return true
}

// Stop freezes the counter. Stopping a stopped timer is a no-op.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stop == nil {
		return
	}
	close(t.stop)
	t.stop = nil
}

func (t *Timer) Seconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seconds
}

func (t *Timer) String() string {
	return Format(t.Seconds())
}

func (t *Timer) run(tk Ticker, stop chan struct{}) {
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tk.C():
			t.mu.Lock()
			if t.stop != stop {
				t.mu.Unlock()
				return
			}
			t.seconds++
			seconds := t.seconds
			fn := t.onTick
			t.mu.Unlock()

			if fn != nil {
				fn(seconds)
			}
		}
	}
}

// Format renders seconds as zero-padded MM:SS.
func Format(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
