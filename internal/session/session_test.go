package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/breeze-rmm/screend/internal/capture"
	"github.com/breeze-rmm/screend/internal/geometry"
	"github.com/breeze-rmm/screend/internal/pat"
	"github.com/breeze-rmm/screend/internal/protocol"
)

type fakeSender struct {
	accepted     bool
	rejected     int
	screenInfo   [][]byte
	closed       bool
	macroblocks  int
	endOfDataSeq []uint32
}

func (f *fakeSender) AcceptHandshake(src *net.UDPAddr, version byte) error {
	f.accepted = true
	return nil
}
func (f *fakeSender) RejectHandshake(src *net.UDPAddr) error {
	f.rejected++
	return nil
}
func (f *fakeSender) SendScreenInfo(serialized []byte) error {
	f.screenInfo = append(f.screenInfo, serialized)
	return nil
}
func (f *fakeSender) SendClose() error { f.closed = true; return nil }
func (f *fakeSender) SendMacroblock(ts uint32, payload []byte, notifier PacketNotifier) {
	f.macroblocks++
}
func (f *fakeSender) EndOfData(ts uint32, notifier PacketNotifier) {
	f.endOfDataSeq = append(f.endOfDataSeq, ts)
}

func newTestController(t *testing.T, sender *fakeSender) (*Controller, context.Context, context.CancelFunc) {
	t.Helper()
	// Segment always resolves to a full ViewWidth x ViewHeight rectangle
	// regardless of the monitor's own size, so the capture fixture must be
	// that size too.
	pix := make([]byte, geometry.ViewWidth*geometry.ViewHeight*4)
	screen := capture.NewMemoryScreen(pix, geometry.ViewWidth, geometry.ViewHeight)
	enumerator := &capture.StaticEnumerator{Monitors: []geometry.Monitor{
		geometry.NewMonitor("Test", 1920, 1080, 0, 0, true),
	}}

	tracker := pat.New()

	ctx, cancel := context.WithCancel(context.Background())
	go tracker.Run(ctx)

	ctl := New(screen, nil, enumerator, sender, tracker, Options{FrameFPS: 1000, HeartbeatTimeout: 5 * time.Second})
	return ctl, ctx, cancel
}

func TestHandshakeAcceptedWhenIdle(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()
	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, protocol.MinSupportedProtocolVersion, protocol.MaxSupportedProtocolVersion)

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("handshake was never accepted")
		default:
		}
		if sender.accepted {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHandshakeRejectedWhileAlreadyConnected(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()
	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, 1, 1)
	time.Sleep(20 * time.Millisecond)
	ctl.Handshake(&net.UDPAddr{IP: net.ParseIP("10.0.0.2")}, 1, 1)
	time.Sleep(20 * time.Millisecond)

	if !sender.accepted {
		t.Fatal("expected first handshake to be accepted")
	}
	if sender.rejected != 1 {
		t.Fatalf("expected the second peer's handshake to be rejected exactly once, got %d", sender.rejected)
	}
}

// TestHeartbeatTimeoutReturnsToIdleNotTerminated asserts §8 scenario 6:
// a heartbeat timeout closes the session and returns the Controller to
// IDLE awaiting a new handshake — it must not end Run's event loop the
// way Exit does.
func TestHeartbeatTimeoutReturnsToIdleNotTerminated(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()
	ctl.opts.HeartbeatTimeout = 20 * time.Millisecond
	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, 1, 1)
	time.Sleep(10 * time.Millisecond)
	ctl.Heartbeat() // arm the watchdog so it can subsequently time out

	deadline := time.After(time.Second)
	for !sender.closed {
		select {
		case <-deadline:
			t.Fatal("heartbeat timeout never closed the session")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// The Controller must still be alive and able to accept a new
	// handshake after the timeout-driven close.
	sender.accepted = false
	ctl.Handshake(&net.UDPAddr{IP: net.ParseIP("10.0.0.3")}, 1, 1)
	deadline = time.After(time.Second)
	for !sender.accepted {
		select {
		case <-deadline:
			t.Fatal("controller did not accept a new handshake after a prior timeout")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// TestControlMessagesSurviveCommandBurst pins the inbox's no-drop
// contract: with a one-slot inbox, a burst of commands far larger than
// the queue must all be delivered (enqueue blocks on a full inbox rather
// than shedding), so the Handshake trailing the burst is still accepted.
func TestControlMessagesSurviveCommandBurst(t *testing.T) {
	sender := &fakeSender{}
	pix := make([]byte, geometry.ViewWidth*geometry.ViewHeight*4)
	screen := capture.NewMemoryScreen(pix, geometry.ViewWidth, geometry.ViewHeight)
	enumerator := &capture.StaticEnumerator{Monitors: []geometry.Monitor{
		geometry.NewMonitor("Test", 1920, 1080, 0, 0, true),
	}}
	tracker := pat.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	ctl := New(screen, nil, enumerator, sender, tracker, Options{
		FrameFPS:       1000,
		InboxQueueSize: 1,
	})
	go ctl.Run(ctx)

	for i := 0; i < 200; i++ {
		ctl.Heartbeat()
	}
	ctl.Handshake(&net.UDPAddr{}, 1, 1)

	deadline := time.After(time.Second)
	for !sender.accepted {
		select {
		case <-deadline:
			t.Fatal("handshake queued behind a command burst was never processed")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestRequestViewEmitsFirstImage(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()
	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, 1, 1)
	time.Sleep(20 * time.Millisecond)
	ctl.RequestView(0, 0)

	deadline := time.After(time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("first image was never sent, macroblocks=%d", sender.macroblocks)
		default:
		}
		if sender.macroblocks > 0 && len(sender.endOfDataSeq) > 0 {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

// TestRequestViewCaptureFailureClosesSession asserts §7's capture-error
// taxonomy: "Capture error (display collaborator fails): fatal to CD;
// triggers Close." A Screen whose Grab always fails (the shipped default
// wiring in cmd/screend, capture.StubScreen, is exactly such a Screen)
// must drive the session to Close rather than stay in CONNECTED retrying
// forever.
func TestRequestViewCaptureFailureClosesSession(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()

	// Force every Grab to fail, the same as capture.StubScreen.
	failingScreen := ctl.screen.(*capture.MemoryScreen)
	failingScreen.Close()

	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, 1, 1)
	time.Sleep(20 * time.Millisecond)
	ctl.RequestView(0, 0)

	deadline := time.After(time.Second)
	for !sender.closed {
		select {
		case <-deadline:
			t.Fatal("RequestView capture failure never closed the session")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

// TestTickCaptureFailureClosesSession covers the steady-state frame-tick
// path (§7), not just the initial RequestView capture: once streaming, a
// Screen that starts failing mid-session must also drive Close instead of
// leaving the Controller retrying capture on every subsequent tick.
func TestTickCaptureFailureClosesSession(t *testing.T) {
	sender := &fakeSender{}
	ctl, ctx, cancel := newTestController(t, sender)
	defer cancel()
	go ctl.Run(ctx)

	ctl.Handshake(&net.UDPAddr{}, 1, 1)
	time.Sleep(20 * time.Millisecond)
	ctl.RequestView(0, 0)

	deadline := time.After(time.Second)
	for sender.macroblocks == 0 {
		select {
		case <-deadline:
			t.Fatal("first image was never sent")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// Capture backend dies after streaming has already started.
	ctl.screen.(*capture.MemoryScreen).Close()

	deadline = time.After(time.Second)
	for !sender.closed {
		select {
		case <-deadline:
			t.Fatal("tick capture failure never closed the session")
		default:
			time.Sleep(time.Millisecond)
		}
	}
}
