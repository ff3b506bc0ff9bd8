// Package transport implements the Reliability/Transport component
// (§4.4): the two UDP sockets, outbound packet framing/batching, and
// inbound opcode dispatch. Grounded on original_source/src/udp.rs for the
// send/receive loop shape, and on
// kstaniek-go-ampio-server/internal/server/server.go for the Go idiom —
// atomic counters, structured per-component logging, and cooperative
// cancellation via context.Context.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/breeze-rmm/screend/internal/logging"
	"github.com/breeze-rmm/screend/internal/metrics"
	"github.com/breeze-rmm/screend/internal/protocol"
)

// Controller is the subset of the Session Controller's inbound API that
// the receive loop dispatches into (§4.4's opcode table).
type Controller interface {
	Handshake(src *net.UDPAddr, min, max byte)
	RequestScreenInfo()
	RequestView(screen, segment byte)
	Refresh()
	Close()
	Exit()
	LeftClick(x, y uint16)
	RightClick(x, y uint16)
	DoubleClick(x, y uint16)
	Drag(x0, y0, x1, y1 uint16)
	Keyboard(payload []byte)
}

// AckSink receives decoded packet-id lists from inbound Ack datagrams
// (the Pending-Ack Tracker).
type AckSink interface {
	NewReceive(packetIDs []uint32)
}

// Heartbeater receives Heartbeat notifications (the Watchdog).
type Heartbeater interface {
	Heartbeat()
}

// Transport owns the receive and send UDP sockets. Per §5, these are
// single-owner resources: no other component touches them.
type Transport struct {
	controller  Controller
	acks        AckSink
	heartbeat   Heartbeater
	logger      *slog.Logger
	recvConn    *net.UDPConn
	sendConn    *net.UDPConn
	client      atomic.Pointer[net.UDPAddr]
	nextPacket  uint32
	buf         *protocol.ImagePacket
	present     []uint16
	totalSent   atomic.Uint64
	totalDrops  atomic.Uint64
	totalRecv   atomic.Uint64
	totalBadPkt atomic.Uint64
}

// PacketNotifier is notified whenever a send-buffer flush dispatches a
// batch of block ids under a packet id (the Pending-Ack Tracker's
// NewSend).
type PacketNotifier interface {
	NewSend(packetID, ts uint32, blockIDs []uint16)
}

// New constructs a Transport. Call ListenAndServe to bind the sockets and
// start the receive loop.
func New(controller Controller, acks AckSink, heartbeat Heartbeater) *Transport {
	return &Transport{
		controller: controller,
		acks:       acks,
		heartbeat:  heartbeat,
		logger:     logging.L("transport"),
		buf:        protocol.NewImagePacket(0),
	}
}

// ListenAndServe binds both UDP sockets and runs the receive loop until
// ctx is cancelled or a socket read fails (which is fatal, per §4.4).
func (t *Transport) ListenAndServe(ctx context.Context) error {
	recvConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: protocol.ReceivePort})
	if err != nil {
		return fmt.Errorf("transport: bind receive socket: %w", err)
	}
	t.recvConn = recvConn
	defer recvConn.Close()

	sendConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: protocol.SendPort})
	if err != nil {
		return fmt.Errorf("transport: bind send socket: %w", err)
	}
	t.sendConn = sendConn
	defer sendConn.Close()

	go func() {
		<-ctx.Done()
		recvConn.Close()
		sendConn.Close()
	}()

	t.logger.Info("listening", "receive_port", protocol.ReceivePort, "send_port", protocol.SendPort)

	// Sized for the largest legal inbound datagram: an Ack carrying 255
	// packet ids (1 opcode + 1 count + 255*4 id bytes = 1022).
	buf := make([]byte, 2048)
	for {
		n, src, err := recvConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("transport: receive socket read failed: %w", err)
		}
		t.totalRecv.Add(1)
		t.dispatch(buf[:n], src)
	}
}

// dispatch decodes one inbound datagram and routes it per §4.4's opcode
// table. Unknown opcodes and length mismatches are silently dropped: a
// hostile or corrupt peer must never crash the receiver.
func (t *Transport) dispatch(buf []byte, src *net.UDPAddr) {
	if len(buf) == 0 {
		return
	}
	switch buf[0] {
	case protocol.OpHandshake:
		if len(buf) != 1+protocol.LenHandshake {
			t.drop()
			return
		}
		t.controller.Handshake(src, buf[1], buf[2])
	case protocol.OpRequestScreenInfo:
		if len(buf) != 1 {
			t.drop()
			return
		}
		t.controller.RequestScreenInfo()
	case protocol.OpRequestView:
		if len(buf) != 1+protocol.LenRequestView {
			t.drop()
			return
		}
		t.controller.RequestView(buf[1], buf[2])
	case protocol.OpRefresh:
		if len(buf) != 1 {
			t.drop()
			return
		}
		t.controller.Refresh()
	case protocol.OpClose:
		if len(buf) != 1 {
			t.drop()
			return
		}
		t.controller.Close()
	case protocol.OpExit:
		if len(buf) != 1 {
			t.drop()
			return
		}
		t.controller.Exit()
	case protocol.OpLeftClick:
		x, y, ok := decodeClick(buf)
		if !ok {
			t.drop()
			return
		}
		t.controller.LeftClick(x, y)
	case protocol.OpRightClick:
		x, y, ok := decodeClick(buf)
		if !ok {
			t.drop()
			return
		}
		t.controller.RightClick(x, y)
	case protocol.OpDoubleClick:
		x, y, ok := decodeClick(buf)
		if !ok {
			t.drop()
			return
		}
		t.controller.DoubleClick(x, y)
	case protocol.OpDrag:
		x0, y0, x1, y1, err := protocol.DecodeDragCoords(buf[1:])
		if err != nil {
			t.drop()
			return
		}
		t.controller.Drag(x0, y0, x1, y1)
	case protocol.OpKeyboard:
		t.controller.Keyboard(append([]byte(nil), buf[1:]...))
	case protocol.OpAck:
		ids := protocol.DecodeAck(buf[1:])
		t.acks.NewReceive(ids)
	case protocol.OpHeartbeat:
		if len(buf) != 1 {
			t.drop()
			return
		}
		t.heartbeat.Heartbeat()
	default:
		t.drop()
	}
}

func (t *Transport) drop() {
	t.totalBadPkt.Add(1)
	metrics.MalformedPackets.Inc()
}

func decodeClick(buf []byte) (x, y uint16, ok bool) {
	if len(buf) != 1+protocol.LenClickCoords {
		return 0, 0, false
	}
	x = uint16(buf[1])<<8 | uint16(buf[2])
	y = uint16(buf[3])<<8 | uint16(buf[4])
	return x, y, true
}

// AcceptHandshake binds the send socket's remote address to src with the
// fixed client port, and sends a HandshakeAck. Must be called before any
// other Send* method. Grounded on udp.rs's new_sender (rebinds the client
// port to 36492 post-handshake).
func (t *Transport) AcceptHandshake(src *net.UDPAddr, version byte) error {
	client := &net.UDPAddr{IP: src.IP, Port: protocol.ClientPort}
	t.client.Store(client)
	return t.send(protocol.EncodeHandshakeAck(version))
}

// RejectHandshake replies directly to src (not the currently bound client,
// which may be a different, already-connected peer) with a
// RejectHandshake control packet, per §4.1/§8 scenario 1.
func (t *Transport) RejectHandshake(src *net.UDPAddr) error {
	dst := &net.UDPAddr{IP: src.IP, Port: protocol.ClientPort}
	return t.sendTo(dst, protocol.EncodeRejectHandshake())
}

// SendScreenInfo transmits a serialized monitor list.
func (t *Transport) SendScreenInfo(serializedMonitors []byte) error {
	return t.send(protocol.EncodeScreenInfo(serializedMonitors))
}

// SendClose transmits the bare close notification.
func (t *Transport) SendClose() error {
	return t.send([]byte{protocol.OpCloseNotify})
}

func (t *Transport) send(buf []byte) error {
	client := t.client.Load()
	if client == nil {
		return errors.New("transport: no client bound yet")
	}
	return t.sendTo(client, buf)
}

// sendTo writes buf to an explicit destination, bypassing the bound-client
// check — used for RejectHandshake, which must reach a peer that is (by
// definition) not the currently bound client.
func (t *Transport) sendTo(dst *net.UDPAddr, buf []byte) error {
	if t.sendConn == nil {
		return errors.New("transport: send socket not open")
	}
	if _, err := t.sendConn.WriteToUDP(buf, dst); err != nil {
		t.totalDrops.Add(1)
		metrics.PacketsDropped.Inc()
		t.logger.Warn("send failed, dropping", logging.KeyError, err)
		return nil // §4.4: send errors are drops, not retried or propagated
	}
	t.totalSent.Add(1)
	metrics.PacketsSent.Inc()
	return nil
}

// SendMacroblock appends one encoded macroblock payload to the open
// image-data packet, flushing it first if the payload would overflow
// MaxBufferSize (§4.4 send sequence). notifier is told about every flush.
func (t *Transport) SendMacroblock(ts uint32, payload []byte, notifier PacketNotifier) {
	if t.buf.WouldOverflow(len(payload)) {
		t.flush(ts, notifier)
	}
	t.buf.Append(payload)
}

// EndOfData flushes any buffered macroblock payloads as the final packet
// of a frame (§4.4 send sequence).
func (t *Transport) EndOfData(ts uint32, notifier PacketNotifier) {
	if t.buf.BlockCount() > 0 {
		t.flush(ts, notifier)
	}
}

func (t *Transport) flush(ts uint32, notifier PacketNotifier) {
	packetID := t.buf.PacketID
	blockIDs := t.buf.BlockIDs()
	datagram := t.buf.Flush(ts)
	if err := t.send(datagram); err != nil {
		t.logger.Warn("flush send failed", logging.KeyError, err)
	}
	notifier.NewSend(packetID, ts, blockIDs)

	t.nextPacket = packetID + 1
	t.buf = protocol.NewImagePacket(t.nextPacket)
}
