package transport

import (
	"net"
	"testing"

	"github.com/breeze-rmm/screend/internal/protocol"
)

type fakeController struct {
	handshakes []byte
	leftClicks [][2]uint16
}

func (f *fakeController) Handshake(src *net.UDPAddr, min, max byte) { f.handshakes = append(f.handshakes, min, max) }
func (f *fakeController) RequestScreenInfo()                        {}
func (f *fakeController) RequestView(screen, segment byte)          {}
func (f *fakeController) Refresh()                                  {}
func (f *fakeController) Close()                                    {}
func (f *fakeController) Exit()                                     {}
func (f *fakeController) LeftClick(x, y uint16)                     { f.leftClicks = append(f.leftClicks, [2]uint16{x, y}) }
func (f *fakeController) RightClick(x, y uint16)                    {}
func (f *fakeController) DoubleClick(x, y uint16)                   {}
func (f *fakeController) Drag(x0, y0, x1, y1 uint16)                {}
func (f *fakeController) Keyboard(payload []byte)                   {}

type fakeAckSink struct{ received [][]uint32 }

func (f *fakeAckSink) NewReceive(ids []uint32) { f.received = append(f.received, ids) }

type fakeHeartbeater struct{ count int }

func (f *fakeHeartbeater) Heartbeat() { f.count++ }

type fakeNotifier struct {
	sent []struct {
		packetID, ts uint32
		blockIDs     []uint16
	}
}

func (f *fakeNotifier) NewSend(packetID, ts uint32, blockIDs []uint16) {
	f.sent = append(f.sent, struct {
		packetID, ts uint32
		blockIDs     []uint16
	}{packetID, ts, blockIDs})
}

func TestDispatchRoutesLeftClick(t *testing.T) {
	ctl := &fakeController{}
	tr := New(ctl, &fakeAckSink{}, &fakeHeartbeater{})

	buf := []byte{protocol.OpLeftClick, 0, 100, 0, 200}
	tr.dispatch(buf, &net.UDPAddr{})

	if len(ctl.leftClicks) != 1 || ctl.leftClicks[0] != [2]uint16{100, 200} {
		t.Fatalf("unexpected left clicks: %v", ctl.leftClicks)
	}
}

func TestDispatchDropsLengthMismatch(t *testing.T) {
	ctl := &fakeController{}
	tr := New(ctl, &fakeAckSink{}, &fakeHeartbeater{})

	buf := []byte{protocol.OpLeftClick, 0, 100} // too short
	tr.dispatch(buf, &net.UDPAddr{})

	if len(ctl.leftClicks) != 0 {
		t.Fatalf("expected drop, got %v", ctl.leftClicks)
	}
	if tr.totalBadPkt.Load() != 1 {
		t.Fatalf("bad packet counter = %d, want 1", tr.totalBadPkt.Load())
	}
}

func TestDispatchDropsUnknownOpcode(t *testing.T) {
	ctl := &fakeController{}
	tr := New(ctl, &fakeAckSink{}, &fakeHeartbeater{})
	tr.dispatch([]byte{200}, &net.UDPAddr{})
	if tr.totalBadPkt.Load() != 1 {
		t.Fatalf("expected unknown opcode to be counted as dropped")
	}
}

func TestDispatchRoutesAckToSink(t *testing.T) {
	ctl := &fakeController{}
	acks := &fakeAckSink{}
	tr := New(ctl, acks, &fakeHeartbeater{})

	body := protocol.EncodeAck([]uint32{5, 9})
	buf := append([]byte{protocol.OpAck}, body...)
	tr.dispatch(buf, &net.UDPAddr{})

	if len(acks.received) != 1 {
		t.Fatalf("expected 1 ack batch, got %d", len(acks.received))
	}
	if acks.received[0][0] != 5 || acks.received[0][1] != 9 {
		t.Fatalf("unexpected ack ids: %v", acks.received[0])
	}
}

func TestDispatchRoutesHeartbeat(t *testing.T) {
	ctl := &fakeController{}
	hb := &fakeHeartbeater{}
	tr := New(ctl, &fakeAckSink{}, hb)
	tr.dispatch([]byte{protocol.OpHeartbeat}, &net.UDPAddr{})
	if hb.count != 1 {
		t.Fatalf("heartbeat count = %d, want 1", hb.count)
	}
}

func TestSendMacroblockFlushesOnOverflowAndNotifies(t *testing.T) {
	ctl := &fakeController{}
	tr := New(ctl, &fakeAckSink{}, &fakeHeartbeater{})
	notifier := &fakeNotifier{}

	// No send socket bound in this unit test; send() will fail softly and
	// log, but the buffer bookkeeping and notification must still happen.
	big := make([]byte, protocol.MaxBufferSize)
	tr.SendMacroblock(1, big, notifier)
	tr.SendMacroblock(1, []byte{0, 0}, notifier)

	if len(notifier.sent) == 0 {
		t.Fatal("expected at least one NewSend notification from overflow flush")
	}
}

func TestRejectHandshakeSendsToRejectedPeerNotBoundClient(t *testing.T) {
	ctl := &fakeController{}
	tr := New(ctl, &fakeAckSink{}, &fakeHeartbeater{})

	// No send socket bound in this unit test: RejectHandshake must not
	// require a prior AcceptHandshake/bound client the way send() does.
	if err := tr.RejectHandshake(&net.UDPAddr{IP: net.ParseIP("10.0.0.5")}); err == nil {
		t.Fatal("expected an error because the send socket is not open in this unit test")
	} else if err.Error() != "transport: send socket not open" {
		t.Fatalf("unexpected error: %v", err)
	}
}
