// Package runctl provides SIGINT-coordinated shutdown for a running batch
// loop, adapted from fortio-fortio/periodic.Aborter: a start/stop channel
// pair guarded by a mutex so Abort can be called safely whether or not a
// loop has started, and repeatedly, without panicking on a closed channel.
// Unlike the teacher's Aborter (one instance shared by many concurrent QPS
// runs, tracked through package-level counters), here each batch loop gets
// its own Aborter, matching engine.Loop's one-goroutine-per-batch model.
package runctl

import (
	"os"
	"os/signal"
	"sync"

	"fortio.org/log"
)

// Aborter lets one goroutine request that a running loop stop, and lets
// the loop find out it should stop, without a race between "not started
// yet" and "already stopped".
type Aborter struct {
	mu        sync.Mutex
	StartChan chan struct{}
	StopChan  chan struct{}
}

// NewAborter returns a ready-to-use Aborter.
func NewAborter() *Aborter {
	return &Aborter{
		StartChan: make(chan struct{}, 1),
		StopChan:  make(chan struct{}),
	}
}

// RecordStart marks the loop as started; safe to call more than once, as
// calls after the first do not block.
func (a *Aborter) RecordStart() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case a.StartChan <- struct{}{}:
	default:
	}
}

// Abort requests that the loop stop. Safe to call multiple times or
// before RecordStart; only the first call actually closes StopChan.
func (a *Aborter) Abort() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.StopChan:
		return // already aborted
	default:
		close(a.StopChan)
	}
}

// Aborted reports whether Abort has been called.
func (a *Aborter) Aborted() bool {
	select {
	case <-a.StopChan:
		return true
	default:
		return false
	}
}

// WatchSignals closes the Aborter on SIGINT (os.Interrupt), mirroring
// periodic.Normalize's per-run signal watcher goroutine; returns a stop
// function to deregister the watcher once the loop it's protecting exits.
func WatchSignals(a *Aborter) (stop func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-c:
			log.Infof("runctl: interrupt received, aborting")
			a.Abort()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(c)
		close(done)
	}
}
