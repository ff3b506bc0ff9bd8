// Package watchdog implements the Heartbeat Watchdog (§4.6): it stays
// silent until the first heartbeat arrives, then closes the session if no
// further heartbeat arrives within the configured timeout. Grounded on
// original_source/src/heartbeat.rs.
package watchdog

import (
	"context"
	"time"
)

// Watchdog waits for an optional first heartbeat, then enforces a timeout
// between subsequent ones. If no heartbeat ever arrives, it never fires:
// heartbeats are optional for the client.
type Watchdog struct {
	heartbeatCh chan struct{}
	closeCh     chan struct{}
	closeOnce   chan struct{}
	timedOutCh  chan struct{}
	timeout     time.Duration
}

// New constructs a Watchdog with the given inter-heartbeat timeout.
func New(timeout time.Duration) *Watchdog {
	return &Watchdog{
		heartbeatCh: make(chan struct{}, 1),
		closeCh:     make(chan struct{}),
		closeOnce:   make(chan struct{}),
		timedOutCh:  make(chan struct{}),
		timeout:     timeout,
	}
}

// Heartbeat records a received heartbeat.
func (w *Watchdog) Heartbeat() {
	select {
	case w.heartbeatCh <- struct{}{}:
	default:
		// already pending; coalesce
	}
}

// Close stops the watchdog loop without signalling a timeout. Safe to
// call more than once.
func (w *Watchdog) Close() {
	select {
	case <-w.closeOnce:
	default:
		close(w.closeOnce)
	}
}

// TimedOut returns a channel that is closed when the watchdog observes a
// missed heartbeat deadline. The Session Controller selects on this to
// close the session, matching main.rs's handling of MainMessage::Close
// triggered by the heartbeat thread.
func (w *Watchdog) TimedOut() <-chan struct{} { return w.timedOutCh }

// Run drives the watchdog state machine until ctx is cancelled, Close is
// called, or a timeout is observed (in which case TimedOut is closed and
// Run returns).
func (w *Watchdog) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-w.closeOnce:
		return
	case <-w.heartbeatCh:
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeOnce:
			return
		case <-w.heartbeatCh:
		case <-time.After(w.timeout):
			close(w.timedOutCh)
			return
		}
	}
}
