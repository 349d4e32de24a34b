package accrual

import (
	"sync"
	"time"
)

// Timers registers one-shot callbacks keyed by setting ID. Scheduling an ID
// that already has a timer replaces it.
type Timers interface {
	Schedule(id string, at time.Time, fn func())
	Cancel(id string)
	Stop()
}

// LocalTimers runs callbacks on time.AfterFunc in this process. A time in the
// past fires immediately.
type LocalTimers struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	stopped bool
	now     func() time.Time
}

func NewLocalTimers() *LocalTimers {
	return &LocalTimers{timers: make(map[string]*time.Timer), now: time.Now}
}

func (lt *LocalTimers) Schedule(id string, at time.Time, fn func()) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.stopped {
		return
	}
	if t, ok := lt.timers[id]; ok {
		t.Stop()
	}

	delay := at.Sub(lt.now())
	if delay < 0 {
		delay = 0
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		lt.mu.Lock()
		// a replaced timer must not remove its successor
		if lt.timers[id] == t {
			delete(lt.timers, id)
		}
		lt.mu.Unlock()
		fn()
	})
	lt.timers[id] = t
}

func (lt *LocalTimers) Cancel(id string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if t, ok := lt.timers[id]; ok {
		t.Stop()
		delete(lt.timers, id)
	}
}

// Stop cancels every pending timer. Later Schedule calls are ignored.
func (lt *LocalTimers) Stop() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for id, t := range lt.timers {
		t.Stop()
		delete(lt.timers, id)
	}
	lt.stopped = true
}

// Pending returns the number of registered timers.
func (lt *LocalTimers) Pending() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return len(lt.timers)
}
