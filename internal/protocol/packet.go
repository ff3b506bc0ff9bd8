package protocol

import (
	"encoding/binary"
	"errors"
)

// ErrShortPacket is returned by decoders when a datagram is too short for
// its claimed opcode. RT-recv treats this the same as any other malformed
// packet: drop silently.
var ErrShortPacket = errors.New("protocol: short packet")

// ImagePacket accumulates macroblock payloads for a single outbound
// datagram. It owns the pre-stamped header; RT-send appends payloads until
// MaxBufferSize would be exceeded, then flushes.
type ImagePacket struct {
	Timestamp uint32
	PacketID  uint32
	buf       []byte // header + payloads, header patched at Flush time
	blockIDs  []uint16
}

// NewImagePacket allocates a packet stamped with the given packet id. The
// timestamp is patched in at Flush, since RT-send may not know the final
// frame timestamp until EndOfData.
func NewImagePacket(packetID uint32) *ImagePacket {
	p := &ImagePacket{PacketID: packetID}
	p.buf = make([]byte, HeaderSize, MaxBufferSize)
	p.buf[0] = OpImageData
	binary.BigEndian.PutUint32(p.buf[5:9], packetID)
	return p
}

// Len returns the current total size (header + payloads so far).
func (p *ImagePacket) Len() int { return len(p.buf) }

// BlockCount returns the number of macroblock payloads appended so far.
func (p *ImagePacket) BlockCount() int { return len(p.blockIDs) }

// WouldOverflow reports whether appending a payload of the given length
// would push the packet past MaxBufferSize.
func (p *ImagePacket) WouldOverflow(payloadLen int) bool {
	return len(p.buf)+payloadLen > MaxBufferSize
}

// Append adds a macroblock payload to the packet and records its block id,
// extracted from the payload's embedded 10-bit id (see BlockIDFromPayload).
func (p *ImagePacket) Append(payload []byte) {
	p.buf = append(p.buf, payload...)
	p.blockIDs = append(p.blockIDs, BlockIDFromPayload(payload))
}

// BlockIDs returns the block ids carried by payloads appended so far.
func (p *ImagePacket) BlockIDs() []uint16 {
	return p.blockIDs
}

// Flush patches the timestamp and block-count header fields and returns the
// finished datagram bytes. The packet must not be reused after Flush.
func (p *ImagePacket) Flush(timestamp uint32) []byte {
	p.Timestamp = timestamp
	binary.BigEndian.PutUint32(p.buf[1:5], timestamp)
	p.buf[9] = byte(len(p.blockIDs))
	return p.buf
}

// BlockIDFromPayload extracts the 10-bit macroblock id embedded in the
// first two bytes of a macroblock payload (MSB first, per §4.3/§4.4).
func BlockIDFromPayload(payload []byte) uint16 {
	if len(payload) < 2 {
		return 0
	}
	return uint16(payload[0])<<2 | uint16(payload[1]>>6)
}

// EncodeHandshakeAck builds the outbound HandshakeAck control packet.
func EncodeHandshakeAck(version byte) []byte {
	return []byte{OpHandshakeAck, version}
}

// EncodeRejectHandshake builds the outbound RejectHandshake control packet,
// sent directly to the rejected peer's address rather than the currently
// bound client (§4.1 "Any concurrent Handshake from another peer is
// rejected with RejectHandshake").
func EncodeRejectHandshake() []byte {
	return []byte{OpRejectHandshake}
}

// EncodeScreenInfo builds the outbound ScreenInfo control packet wrapping
// an already-serialized monitor list.
func EncodeScreenInfo(serializedMonitors []byte) []byte {
	out := make([]byte, 0, 1+len(serializedMonitors))
	out = append(out, OpScreenInfo)
	out = append(out, serializedMonitors...)
	return out
}

// DecodeHandshake parses a Handshake body (min, max protocol version).
func DecodeHandshake(body []byte) (min, max byte, err error) {
	if len(body) != LenHandshake {
		return 0, 0, ErrShortPacket
	}
	return body[0], body[1], nil
}

// DecodeRequestView parses a RequestView body (screen index, segment index).
func DecodeRequestView(body []byte) (screen, segment byte, err error) {
	if len(body) != LenRequestView {
		return 0, 0, ErrShortPacket
	}
	return body[0], body[1], nil
}

// DecodeClickCoords parses a 4-byte (x16,y16) body shared by LeftClick,
// RightClick, and DoubleClick.
func DecodeClickCoords(body []byte) (x, y uint16, err error) {
	if len(body) != LenClickCoords {
		return 0, 0, ErrShortPacket
	}
	return binary.BigEndian.Uint16(body[0:2]), binary.BigEndian.Uint16(body[2:4]), nil
}

// DecodeDragCoords parses the 8-byte (x0,y0,x1,y1) Drag body.
func DecodeDragCoords(body []byte) (x0, y0, x1, y1 uint16, err error) {
	if len(body) != LenDragCoords {
		return 0, 0, 0, 0, ErrShortPacket
	}
	return binary.BigEndian.Uint16(body[0:2]),
		binary.BigEndian.Uint16(body[2:4]),
		binary.BigEndian.Uint16(body[4:6]),
		binary.BigEndian.Uint16(body[6:8]),
		nil
}

// DecodeAck parses an Ack body: [n_ids: u8][id_0..n_ids-1: u32 BE]. Only as
// many ids as are actually present are returned; a truncated body yields
// the ids that fit rather than an error, matching "malformed packets must
// not crash the receiver".
func DecodeAck(body []byte) []uint32 {
	if len(body) < 1 {
		return nil
	}
	n := int(body[0])
	ids := make([]uint32, 0, n)
	off := 1
	for i := 0; i < n && off+4 <= len(body); i++ {
		ids = append(ids, binary.BigEndian.Uint32(body[off:off+4]))
		off += 4
	}
	return ids
}

// EncodeAck builds an Ack body for the given packet ids (used by test
// doubles and the end-to-end harness acting as a client).
func EncodeAck(ids []uint32) []byte {
	out := make([]byte, 1, 1+4*len(ids))
	out[0] = byte(len(ids))
	for _, id := range ids {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], id)
		out = append(out, b[:]...)
	}
	return out
}
