package preview

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	// Stop prevents any further firing. It reports whether the timer was
	// still active.
	Stop() bool
}

// Scheduler arms the sequencer's boundary watch and inter-segment delay and
// runs its asynchronous play requests.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Every(d time.Duration, f func()) Timer
	Go(f func())
}

// SystemScheduler runs callbacks on the runtime timers.
type SystemScheduler struct{}

func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (SystemScheduler) Every(d time.Duration, f func()) Timer {
	t := &ticker{ticker: time.NewTicker(d), done: make(chan struct{})}
	go func() {
		for {
			select {
			case <-t.ticker.C:
				f()
			case <-t.done:
				return
			}
		}
	}()
	return t
}

func (SystemScheduler) Go(f func()) {
	go f()
}

type ticker struct {
	ticker *time.Ticker
	once   sync.Once
	done   chan struct{}
}

func (t *ticker) Stop() bool {
	stopped := false
	t.once.Do(func() {
		t.ticker.Stop()
		close(t.done)
		stopped = true
	})
	return stopped
}
