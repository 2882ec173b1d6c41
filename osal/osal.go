// Package osal provides the two platform services the driver core
// schedules work through: coalescing deferred-work units (tasklets)
// and re-armable one-shot timers. Both guarantee that Kill waits for
// an in-flight callback, which the teardown sequence depends on.
package osal

import (
	"sync"
	"time"
)

// A Tasklet runs its function outside the scheduling context, at most
// one instance at a time. Scheduling while a run is already pending is
// a no-op, so interrupt handlers may schedule freely.
type Tasklet interface {
	// Schedule requests one run of the tasklet function. Requests made
	// while a run is pending coalesce into that run.
	Schedule()

	// Kill stops the tasklet and waits for any in-flight run to
	// finish. Schedule calls after Kill are no-ops.
	Kill()
}

// NewTasklet creates a tasklet executing fn on a dedicated goroutine.
func NewTasklet(fn func()) Tasklet {
	t := &taskletImpl{
		pending: make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(t.stopped)
		for range t.pending {
			fn()
		}
	}()

	return t
}

type taskletImpl struct {
	mu      sync.Mutex
	killed  bool
	pending chan struct{}
	stopped chan struct{}
}

func (t *taskletImpl) Schedule() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return
	}

	select {
	case t.pending <- struct{}{}:
	default:
		// A run is already pending; coalesce.
	}
}

func (t *taskletImpl) Kill() {
	t.mu.Lock()
	if t.killed {
		t.mu.Unlock()
		<-t.stopped
		return
	}
	t.killed = true
	close(t.pending)
	t.mu.Unlock()

	<-t.stopped
}

// A Timer fires its function once, Schedule's duration after the most
// recent Schedule call. Scheduling an armed timer re-arms it.
type Timer interface {
	Schedule(d time.Duration)
	Kill()
}

// NewTimer creates a timer that runs fn when it fires.
func NewTimer(fn func()) Timer {
	t := &timerImpl{fn: fn}
	return t
}

type timerImpl struct {
	mu     sync.Mutex
	timer  *time.Timer
	fn     func()
	killed bool
	wg     sync.WaitGroup
}

func (t *timerImpl) Schedule(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return
	}

	if t.timer == nil {
		t.timer = time.AfterFunc(d, t.run)
		return
	}

	t.timer.Reset(d)
}

func (t *timerImpl) run() {
	t.mu.Lock()
	if t.killed {
		t.mu.Unlock()
		return
	}
	t.wg.Add(1)
	t.mu.Unlock()

	defer t.wg.Done()
	t.fn()
}

func (t *timerImpl) Kill() {
	t.mu.Lock()
	t.killed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.mu.Unlock()

	t.wg.Wait()
}
