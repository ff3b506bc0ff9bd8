// Package protocol implements the wire format of the remote-desktop
// streaming protocol: inbound opcodes, outbound control packets, image-data
// packet framing, and the ack and monitor-list payload encodings.
package protocol

// Inbound opcodes, read from byte 0 of a datagram on the receive socket.
const (
	OpHandshake         byte = 0
	OpRequestScreenInfo byte = 1
	OpRequestView       byte = 2
	OpRefresh           byte = 3
	OpClose             byte = 4
	OpExit              byte = 5
	OpLeftClick         byte = 6
	OpRightClick        byte = 7
	OpDoubleClick       byte = 8
	OpDrag              byte = 9
	OpKeyboard          byte = 10
	OpAck               byte = 11
	OpHeartbeat         byte = 12
)

// Outbound opcodes, written to byte 0 of a datagram on the send socket.
// This is a distinct numbering space from the inbound opcode table above
// (e.g. outbound 2 is image data, inbound 2 is RequestView).
const (
	OpHandshakeAck    byte = 0
	OpScreenInfo      byte = 1
	OpImageData       byte = 2
	OpCloseNotify     byte = 3
	OpRejectHandshake byte = 4
)

// Fixed body lengths for inbound opcodes whose body is not variable-length.
// RT-recv drops any datagram whose length does not match.
const (
	LenHandshake    = 2
	LenRequestView  = 2
	LenZero         = 0
	LenClickCoords  = 4
	LenDragCoords   = 8
)

// MinSupportedProtocolVersion and MaxSupportedProtocolVersion bound the
// versions this server will negotiate during handshake.
const (
	MinSupportedProtocolVersion = 1
	MaxSupportedProtocolVersion = 1
)

// Network ports. Fixed by the protocol, not configurable per-session.
const (
	ReceivePort = 9998
	SendPort    = 9999
	ClientPort  = 36492
)

// MaxBufferSize bounds the body of an outbound image-data packet.
const MaxBufferSize = 1000

// HeaderSize is the length in bytes of the image-data packet header
// (opcode, timestamp, packet id, block count) preceding the macroblock
// payload concatenation.
const HeaderSize = 10
