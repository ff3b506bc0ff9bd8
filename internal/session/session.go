// Package session implements the Session Controller (§4.1): the
// IDLE/CONNECTED/STREAMING state machine, handshake arbitration, view
// selection, and the composition root wiring CD, Encoder, RT, PAT, and
// Watchdog together. Grounded on original_source/src/main.rs for the
// state machine and frame-tick pacing, and on
// kstaniek-go-ampio-server/internal/server/server.go for the Go idiom:
// context-driven cancellation and a single goroutine owning all mutable
// state (here, the inbox-drain loop plays the role that server's
// per-connection goroutine plays). Tunables come in through an Options
// struct.
package session

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/breeze-rmm/screend/internal/capture"
	"github.com/breeze-rmm/screend/internal/changedet"
	"github.com/breeze-rmm/screend/internal/geometry"
	"github.com/breeze-rmm/screend/internal/jpegenc"
	"github.com/breeze-rmm/screend/internal/logging"
	"github.com/breeze-rmm/screend/internal/metrics"
	"github.com/breeze-rmm/screend/internal/pat"
	"github.com/breeze-rmm/screend/internal/protocol"
	"github.com/breeze-rmm/screend/internal/transport"
	"github.com/breeze-rmm/screend/internal/watchdog"
)

// state is the Controller's connection lifecycle (§4.1).
type state int

const (
	stateIdle state = iota
	stateConnected
	stateStreaming
	stateClosing
)

// Sender is the subset of transport.Transport the Controller drives.
type Sender interface {
	AcceptHandshake(src *net.UDPAddr, version byte) error
	RejectHandshake(src *net.UDPAddr) error
	SendScreenInfo(serializedMonitors []byte) error
	SendClose() error
	SendMacroblock(ts uint32, payload []byte, notifier PacketNotifier)
	EndOfData(ts uint32, notifier PacketNotifier)
}

// PacketNotifier is an alias for transport.PacketNotifier; *pat.Tracker
// satisfies it via NewSend.
type PacketNotifier = transport.PacketNotifier

// Options configures a Controller's fixed dependencies and tunables.
type Options struct {
	FrameFPS         int // default frame rate before the 1.003 bias correction
	HeartbeatTimeout time.Duration
	InboxQueueSize   int // capacity of the Controller's command inbox
}

func (o Options) withDefaults() Options {
	if o.FrameFPS <= 0 {
		o.FrameFPS = 10
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 5 * time.Second
	}
	if o.InboxQueueSize <= 0 {
		o.InboxQueueSize = 64
	}
	return o
}

// frameDuration applies the 1.003 empirical bias correction described in
// §4.1: the tick period is the nominal 1/fps divided by 1.003
// (10^12/(1003*fps) ns), so ticks come slightly faster than fps.
func frameDuration(fps int) time.Duration {
	ns := uint64(1_000_000_000_000) / (1003 * uint64(fps))
	return time.Duration(ns)
}

// Controller owns the session state machine and composes the other five
// components. It is driven entirely from Run's goroutine; every exported
// method below only enqueues a command, preserving the single-owner-state
// shape of §5 even though Transport's receive loop calls these methods
// from its own goroutine.
type Controller struct {
	opts   Options
	logger *slog.Logger

	screen     capture.Screen
	input      capture.Input
	enumerator capture.Enumerator
	sender     Sender
	tracker    *pat.Tracker

	monitors       []geometry.Monitor
	serializedList []byte

	inbox chan func()
	done  chan struct{}
	ctx   context.Context

	state          state
	src            *net.UDPAddr
	protocolVer    byte
	detector       *changedet.Detector
	encoder        *jpegenc.Encoder
	currentMonitor int
	segX, segY     int

	// watchdog is this session's Heartbeat Watchdog: constructed fresh on
	// every accepted handshake and torn down in doClose, per §3's "Each
	// component destroys its state when its owning task returns after a
	// Close" (unlike the Pending-Ack Tracker, which is long-lived and
	// reinitialized via Tracker.Clear — see DESIGN.md).
	watchdog *watchdog.Watchdog
	wdCancel context.CancelFunc
}

// New constructs a Controller. Call Run to start its single-threaded
// event loop. The Controller itself implements transport.Heartbeater,
// forwarding heartbeats to whichever session's Watchdog is currently
// armed (a no-op while idle).
func New(screen capture.Screen, input capture.Input, enumerator capture.Enumerator, sender Sender, tracker *pat.Tracker, opts Options) *Controller {
	monitors, _ := enumerator.List()
	opts = opts.withDefaults()
	return &Controller{
		opts:       opts,
		logger:     logging.L("session"),
		screen:     screen,
		input:      input,
		enumerator: enumerator,
		sender:     sender,
		tracker:    tracker,
		monitors:   monitors,
		inbox:      make(chan func(), opts.InboxQueueSize),
		done:       make(chan struct{}),
		state:      stateIdle,
	}
}

// SetSender injects the Sender after construction, mirroring the
// teacher's hb.SetWebSocketClient(wsClient) pattern for two components
// that reference each other (the Transport needs the Controller as its
// opcode-dispatch target, and the Controller needs the Transport as its
// Sender). Must be called before Run.
func (c *Controller) SetSender(sender Sender) {
	c.sender = sender
}

// Run drives the Controller's event loop: inbox commands, pending acks
// from PAT, watchdog timeouts, and the frame tick, per §5's description
// of the Controller as the only task with a wall-clock timeout besides
// the Watchdog.
func (c *Controller) Run(ctx context.Context) {
	c.ctx = ctx
	defer close(c.done)
	ticker := time.NewTicker(frameDuration(c.opts.FrameFPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-c.inbox:
			fn()
			if c.state == stateClosing {
				return
			}
		case ack := <-c.tracker.Acks():
			if c.detector != nil {
				c.detector.AckPackets(ack.Timestamp, ack.BlockIDs)
			}
			metrics.BlocksAcked.Add(float64(len(ack.BlockIDs)))
		case <-c.watchdogTimedOut():
			c.logger.Info("heartbeat timeout, closing session")
			c.doClose()
		case <-ticker.C:
			c.tick()
		}
	}
}

// watchdogTimedOut returns the current session's watchdog timeout
// channel, or nil (which blocks forever in a select) while idle.
func (c *Controller) watchdogTimedOut() <-chan struct{} {
	if c.watchdog == nil {
		return nil
	}
	return c.watchdog.TimedOut()
}

// Heartbeat implements transport.Heartbeater, forwarding to the active
// session's Watchdog.
func (c *Controller) Heartbeat() {
	c.enqueue(func() {
		if c.watchdog != nil {
			c.watchdog.Heartbeat()
		}
	})
}

// enqueue hands a control message to Run's goroutine. Control messages
// are never dropped: a full inbox blocks the producer (the transport's
// receive loop) until the Controller drains it. Frame ticks fire directly
// off Run's ticker and never pass through here, so the tick can lag under
// an input storm but a Close, Heartbeat, or Handshake cannot be lost. The
// done guard unblocks producers once Run has exited.
func (c *Controller) enqueue(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

// setState transitions the Controller's state machine and mirrors it into
// the session_state gauge, matching the teacher's convention of keeping a
// metrics reflection alongside every tracked state machine.
func (c *Controller) setState(s state) {
	c.state = s
	metrics.SessionState.Set(float64(s))
}

// Handshake implements transport.Controller.
func (c *Controller) Handshake(src *net.UDPAddr, min, max byte) {
	c.enqueue(func() {
		if c.state != stateIdle {
			c.logger.Info("reject handshake: session already active")
			metrics.HandshakesRejected.Inc()
			if err := c.sender.RejectHandshake(src); err != nil {
				c.logger.Error("send reject handshake failed", logging.KeyError, err)
			}
			return
		}
		if max < protocol.MinSupportedProtocolVersion || min > protocol.MaxSupportedProtocolVersion {
			c.logger.Info("reject handshake: no overlapping protocol version")
			metrics.HandshakesRejected.Inc()
			if err := c.sender.RejectHandshake(src); err != nil {
				c.logger.Error("send reject handshake failed", logging.KeyError, err)
			}
			return
		}
		version := max
		if version > protocol.MaxSupportedProtocolVersion {
			version = protocol.MaxSupportedProtocolVersion
		}
		c.src = src
		c.protocolVer = version
		c.setState(stateConnected)
		metrics.HandshakesAccepted.Inc()

		wdCtx, cancel := context.WithCancel(c.ctx)
		c.watchdog = watchdog.New(c.opts.HeartbeatTimeout)
		c.wdCancel = cancel
		go c.watchdog.Run(wdCtx)

		if err := c.sender.AcceptHandshake(src, version); err != nil {
			c.logger.Error("accept handshake failed", logging.KeyError, err)
		}
	})
}

// RequestScreenInfo implements transport.Controller.
func (c *Controller) RequestScreenInfo() {
	c.enqueue(func() {
		if c.state == stateIdle {
			return
		}
		descriptors := make([]protocol.MonitorDescriptor, len(c.monitors))
		for i, m := range c.monitors {
			descriptors[i] = protocol.MonitorDescriptor{
				Name:        m.Name,
				NMidpointsX: len(m.MidpointsX),
				NMidpointsY: len(m.MidpointsY),
			}
		}
		c.serializedList = protocol.EncodeMonitorList(descriptors)
		if err := c.sender.SendScreenInfo(c.serializedList); err != nil {
			c.logger.Error("send screen info failed", logging.KeyError, err)
		}
	})
}

// RequestView implements transport.Controller: selects a monitor and
// midpoint segment, (re)initializes CD and the encoder for that
// segment's geometry, and captures the first full frame.
func (c *Controller) RequestView(screenIdx, segmentIdx byte) {
	c.enqueue(func() {
		if c.state == stateIdle {
			return
		}
		if int(screenIdx) >= len(c.monitors) {
			c.logger.Warn("request view: screen index out of range", "screen", screenIdx)
			return
		}
		mon := c.monitors[screenIdx]
		xIdx := int(segmentIdx) % len(mon.MidpointsX)
		yIdx := int(segmentIdx) / len(mon.MidpointsX)
		ox, oy, w, h, err := mon.Segment(xIdx, yIdx)
		if err != nil {
			c.logger.Warn("request view: bad segment", logging.KeyError, err)
			return
		}

		det, err := changedet.New(w, h)
		if err != nil {
			c.logger.Error("request view: bad geometry", logging.KeyError, err)
			return
		}
		c.detector = det
		c.encoder = jpegenc.NewEncoder(w, h)
		c.currentMonitor = int(screenIdx)
		c.segX, c.segY = xIdx, yIdx
		c.tracker.Clear() // §4.5 reinit: drop stale pending acks from the previous view

		frame, err := c.screen.Grab(c.currentMonitor, ox, oy, w, h)
		if err != nil {
			// §7: a capture error is fatal to CD and triggers Close.
			c.logger.Error("request view: capture failed, closing session", logging.KeyError, err)
			c.doClose()
			return
		}
		metrics.FramesCaptured.Inc()
		rgb := bgrxToRGB(frame.Pix, w, h)
		c.detector.ApplyUpdates(frame.Pix, allBlocks(c.detector.BlockCount()))
		c.emitFirstImage(rgb)
		c.setState(stateStreaming)
	})
}

// Refresh implements transport.Controller: while streaming, runs one
// incremental frame immediately instead of waiting for the next tick.
func (c *Controller) Refresh() {
	c.enqueue(func() {
		if c.state == stateStreaming {
			c.tick()
		}
	})
}

// Close implements transport.Controller: tears down the current session
// and returns to IDLE, awaiting a new handshake.
func (c *Controller) Close() {
	c.enqueue(func() {
		c.doClose()
	})
}

// Exit implements transport.Controller: like Close, but the whole server
// process should stop (handled by the caller observing state via Run's
// return and canceling its own context).
func (c *Controller) Exit() {
	c.enqueue(func() {
		c.doClose()
		c.setState(stateClosing)
	})
}

func (c *Controller) doClose() {
	if c.state == stateIdle {
		return
	}
	if err := c.sender.SendClose(); err != nil {
		c.logger.Warn("send close failed", logging.KeyError, err)
	}
	if c.wdCancel != nil {
		c.wdCancel()
	}
	c.watchdog = nil
	c.wdCancel = nil
	c.setState(stateIdle)
	c.src = nil
	c.detector = nil
	c.encoder = nil
}

func (c *Controller) LeftClick(x, y uint16) {
	c.enqueue(func() {
		if c.state == stateIdle || c.input == nil {
			return
		}
		c.input.MoveMouse(int(x), int(y))
		c.input.Click(capture.MouseButtonLeft)
	})
}

func (c *Controller) RightClick(x, y uint16) {
	c.enqueue(func() {
		if c.state == stateIdle || c.input == nil {
			return
		}
		c.input.MoveMouse(int(x), int(y))
		c.input.Click(capture.MouseButtonRight)
	})
}

func (c *Controller) DoubleClick(x, y uint16) {
	c.enqueue(func() {
		if c.state == stateIdle || c.input == nil {
			return
		}
		c.input.MoveMouse(int(x), int(y))
		c.input.Click(capture.MouseButtonLeft)
		c.input.MoveMouse(int(x), int(y))
		c.input.Click(capture.MouseButtonLeft)
	})
}

func (c *Controller) Drag(x0, y0, x1, y1 uint16) {
	c.enqueue(func() {
		if c.state == stateIdle || c.input == nil {
			return
		}
		c.input.MoveMouse(int(x0), int(y0))
		c.input.MouseDown(capture.MouseButtonLeft)
		c.input.MoveMouse(int(x1), int(y1))
		c.input.MouseUp(capture.MouseButtonLeft)
	})
}

func (c *Controller) Keyboard(payload []byte) {
	c.enqueue(func() {
		if c.state == stateIdle || c.input == nil {
			return
		}
		c.input.SendKeysequence(payload)
	})
}

// tick runs one DataAndErrors frame: capture, score, encode, and send the
// changed macroblocks in priority order, stopping at the first zero-score
// entry (§4.3).
func (c *Controller) tick() {
	if c.state != stateStreaming {
		return
	}
	mon := c.monitors[c.currentMonitor]
	ox, oy, w, h, err := mon.Segment(c.segX, c.segY)
	if err != nil {
		return
	}
	frame, err := c.screen.Grab(c.currentMonitor, ox, oy, w, h)
	if err != nil {
		// §7: a capture error is fatal to CD and triggers Close — the
		// session must not sit in STREAMING retrying a dead capture
		// backend forever.
		c.logger.Error("tick: capture failed, closing session", logging.KeyError, err)
		c.doClose()
		return
	}
	metrics.FramesCaptured.Inc()

	ts := c.detector.NextTimestamp()
	errs, err := c.detector.ComputeErrors(frame.Pix)
	if err != nil {
		c.logger.Error("tick: compute errors failed", logging.KeyError, err)
		return
	}
	metrics.BlocksStale.Add(float64(c.detector.StaleCount()))

	var changed []int
	for _, e := range errs {
		if e.Score <= 0 {
			break
		}
		changed = append(changed, e.BlockID)
	}

	rgb := bgrxToRGB(frame.Pix, w, h)
	payloads, err := c.encoder.EncodeChanged(rgb, changed)
	if err != nil {
		c.logger.Error("tick: encode failed", logging.KeyError, err)
		return
	}
	for _, p := range payloads {
		c.sender.SendMacroblock(ts, p, c.tracker)
	}
	c.sender.EndOfData(ts, c.tracker)
	c.detector.ApplyUpdates(frame.Pix, changed)
	metrics.FramesEncoded.Inc()
	metrics.MacroblocksSent.Add(float64(len(changed)))
}

func (c *Controller) emitFirstImage(rgb []byte) {
	payloads, err := c.encoder.EncodeFirstImage(rgb)
	if err != nil {
		c.logger.Error("emit first image failed", logging.KeyError, err)
		return
	}
	ts := c.detector.Timestamp()
	for _, p := range payloads {
		c.sender.SendMacroblock(ts, p, c.tracker)
	}
	c.sender.EndOfData(ts, c.tracker)
	metrics.FramesEncoded.Inc()
}

func allBlocks(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// bgrxToRGB converts a captured BGRx (or BGR) buffer into the RGB layout
// the Change Detector and Encoder operate on.
func bgrxToRGB(pix []byte, width, height int) []byte {
	n := width * height
	bpp := 4
	if len(pix) == n*3 {
		bpp = 3
	}
	out := make([]byte, n*3)
	for i := 0; i < n; i++ {
		b := pix[i*bpp]
		g := pix[i*bpp+1]
		r := pix[i*bpp+2]
		out[i*3] = r
		out[i*3+1] = g
		out[i*3+2] = b
	}
	return out
}
