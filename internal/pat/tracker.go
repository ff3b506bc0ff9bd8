// Package pat implements the Pending-Ack Tracker (§4.5): a single-owner
// map from outbound packet id to the (frame timestamp, block ids) it
// carried, drained by inbound Ack packets and forwarded to the Change
// Detector as acknowledgements. Grounded on
// original_source/src/pending_acks.rs, a single actor thread driven by a
// channel; translated to a goroutine owning its map exclusively and a
// channel-based inbox, the same single-owner-state shape the teacher uses
// for its hub client registry (internal/hub/hub.go).
package pat

import (
	"context"

	"github.com/breeze-rmm/screend/internal/metrics"
)

// Ack is one resolved acknowledgement: the frame timestamp and block ids a
// now-acked packet carried, destined for the Change Detector's
// AckPackets.
type Ack struct {
	Timestamp uint32
	BlockIDs  []uint16
}

type sendEntry struct {
	packetID uint32
	ts       uint32
	blockIDs []uint16
}

// Tracker owns the pending-ack map. All access happens on Tracker.Run's
// goroutine; callers communicate through NewSend/NewReceive/Close, which
// are safe to call from any goroutine.
type Tracker struct {
	sendCh    chan sendEntry
	recvCh    chan []uint32
	clearCh   chan struct{}
	closeCh   chan struct{}
	ackCh     chan Ack
	closeOnce chan struct{}
}

// New constructs a Tracker. Call Run in its own goroutine before using it.
func New() *Tracker {
	return &Tracker{
		sendCh:    make(chan sendEntry, 64),
		recvCh:    make(chan []uint32, 64),
		clearCh:   make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		ackCh:     make(chan Ack, 64),
		closeOnce: make(chan struct{}),
	}
}

// Acks returns the channel on which resolved acknowledgements are
// delivered. The Session Controller reads from this and applies each one
// to the Change Detector.
func (t *Tracker) Acks() <-chan Ack { return t.ackCh }

// NewSend registers a just-sent packet's (timestamp, block ids) under its
// packet id, per §4.4's contract between the transport sender and the
// tracker.
func (t *Tracker) NewSend(packetID, ts uint32, blockIDs []uint16) {
	select {
	case t.sendCh <- sendEntry{packetID: packetID, ts: ts, blockIDs: blockIDs}:
	case <-t.closeOnce:
	}
}

// Clear drops every pending entry and arms the reinit flag, per §4.5: the
// Session Controller calls this when starting a new view so that any
// straggling sends from the just-abandoned geometry can't be acked into
// the new one. The next NewSend accepted is the one carrying ts==0 (the
// post-reinit initial frame); any entry with a nonzero timestamp arriving
// before that is silently dropped.
func (t *Tracker) Clear() {
	select {
	case t.clearCh <- struct{}{}:
	case <-t.closeOnce:
	}
}

// NewReceive reports packet ids acknowledged by an inbound Ack packet.
func (t *Tracker) NewReceive(packetIDs []uint32) {
	select {
	case t.recvCh <- packetIDs:
	case <-t.closeOnce:
	}
}

// Close stops Run's loop. Safe to call more than once.
func (t *Tracker) Close() {
	select {
	case <-t.closeOnce:
	default:
		close(t.closeOnce)
	}
}

// Run drives the tracker loop until ctx is cancelled or Close is called.
// It owns packetMap exclusively: no other goroutine touches it.
func (t *Tracker) Run(ctx context.Context) {
	packetMap := make(map[uint32]sendEntry)
	var reinit bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closeOnce:
			return
		case <-t.clearCh:
			packetMap = make(map[uint32]sendEntry)
			reinit = true
			metrics.PendingAcks.Set(0)
		case e := <-t.sendCh:
			if reinit {
				if e.ts != 0 {
					continue
				}
				reinit = false
			}
			packetMap[e.packetID] = e
			metrics.PendingAcks.Set(float64(len(packetMap)))
		case ids := <-t.recvCh:
			for _, id := range ids {
				entry, ok := packetMap[id]
				if !ok {
					continue
				}
				delete(packetMap, id)
				metrics.PendingAcks.Set(float64(len(packetMap)))
				ack := Ack{Timestamp: entry.ts, BlockIDs: entry.blockIDs}
				select {
				case t.ackCh <- ack:
				case <-ctx.Done():
					return
				case <-t.closeOnce:
					return
				}
			}
		}
	}
}
