// Package changedet implements the Change Detector (§4.2): the mirror
// buffer of client state, the per-macroblock version vectors, the
// per-block squared-error scoring with staleness escalation, and the
// block lookup table. Grounded on original_source/src/context.rs, with
// the version-vector sizing bug (M/4 instead of M) corrected per spec §9.
package changedet

import (
	"errors"
	"fmt"
	"sort"
)

// MacroblockSize and BlockSize are fixed by the protocol: 16x16 is the
// unit of change-detection priority and network addressing, 8x8 is the
// unit of DCT (four per macroblock).
const (
	MacroblockSize = 16
	BlockSize      = 8
)

// ErrBadGeometry is returned when a view's dimensions are not both
// multiples of MacroblockSize, per §8 "W or H not divisible by 16 must be
// rejected at CD construction".
var ErrBadGeometry = errors.New("changedet: width and height must be multiples of 16")

// maxScore is used in place of Rust's i64::MAX for the staleness
// escalation rule (§4.2): a score this large always sorts to the front
// ahead of any real squared-error accumulation, and never overflows when
// compared or summed in int64 arithmetic.
const maxScore = int64(1) << 62

// Error is one entry of the per-frame error vector: a block's
// accumulated squared-error score paired with its id.
type Error struct {
	Score   int64
	BlockID int
}

// Detector owns the mirror buffer, version vectors, capture-derived error
// vector, and block lookup table for the currently selected view. It is
// not safe for concurrent use: the Session Controller drives it from a
// single goroutine per §4.2 "CD runs single-threaded on its own task".
type Detector struct {
	width, height int
	blocksX       int
	blocksY       int
	blockCount    int

	mirror []byte // W*H*3 bytes, RGB

	currentVersion []uint32 // current_version[b]: latest acked timestamp
	mostRecent     []uint32 // most_recent[b]: latest sent timestamp

	blockOf []int // block lookup table, len W*H

	timestamp  uint32
	errors     []Error
	staleCount int
}

// New constructs a Detector for a W x H view. Returns ErrBadGeometry if
// either dimension is not a multiple of 16.
func New(width, height int) (*Detector, error) {
	d := &Detector{}
	if err := d.reset(width, height); err != nil {
		return nil, err
	}
	return d, nil
}

// reset reallocates all geometry-dependent state and resets the
// timestamp to 0, per §4.2 "View change" ("If geometry changed,
// reallocate mirror, errors, version vectors, and the block lookup
// table. Reset timestamp to 0.").
func (d *Detector) reset(width, height int) error {
	if width%MacroblockSize != 0 || height%MacroblockSize != 0 {
		return fmt.Errorf("%w: got %dx%d", ErrBadGeometry, width, height)
	}
	d.width = width
	d.height = height
	d.blocksX = width / MacroblockSize
	d.blocksY = height / MacroblockSize
	d.blockCount = d.blocksX * d.blocksY

	d.mirror = make([]byte, width*height*3)
	d.currentVersion = make([]uint32, d.blockCount)
	d.mostRecent = make([]uint32, d.blockCount)
	d.blockOf = buildBlockLookup(width, height, d.blocksX)
	d.timestamp = 0
	d.errors = make([]Error, d.blockCount)
	for i := range d.errors {
		d.errors[i] = Error{BlockID: i}
	}
	return nil
}

// ChangeView reallocates state for a new view geometry (§4.2 "View
// change"). The caller (Session Controller) is responsible for resolving
// the new (width, height) from the monitor/segment table before calling.
func (d *Detector) ChangeView(width, height int) error {
	return d.reset(width, height)
}

// BlockCount returns M, the macroblock count of the current view.
func (d *Detector) BlockCount() int { return d.blockCount }

// BlocksX returns the macroblock grid width (W/16).
func (d *Detector) BlocksX() int { return d.blocksX }

// Timestamp returns CD's current frame timestamp counter.
func (d *Detector) Timestamp() uint32 { return d.timestamp }

// buildBlockLookup precomputes block_of[n] = (n/W/16)*(W/16) + (n%W)/16
// for every pixel index n, per §4.2.
func buildBlockLookup(width, height, blocksX int) []int {
	table := make([]int, width*height)
	for n := range table {
		row := n / width
		col := n % width
		table[n] = (row/MacroblockSize)*blocksX + col/MacroblockSize
	}
	return table
}

// ComputeErrors runs the per-pixel squared-error scoring against a fresh
// BGRx capture buffer, applies the staleness escalation rule, and returns
// the sorted error vector (score descending, ties by block id ascending).
// The returned slice is owned by the Detector and is invalidated by the
// next call to ComputeErrors.
func (d *Detector) ComputeErrors(capture []byte) ([]Error, error) {
	if len(capture) < d.width*d.height*4 {
		return nil, fmt.Errorf("changedet: capture buffer too small: got %d bytes, want %d", len(capture), d.width*d.height*4)
	}

	for i := range d.errors {
		d.errors[i] = Error{BlockID: i}
	}

	n := d.width * d.height
	for i := 0; i < n; i++ {
		c := capture[4*i : 4*i+3] // B, G, R
		m := d.mirror[3*i : 3*i+3]
		db := int64(c[0]) - int64(m[2])
		dg := int64(c[1]) - int64(m[1])
		dr := int64(c[2]) - int64(m[0])
		block := d.blockOf[i]
		d.errors[block].Score += dr*dr + dg*dg + db*db
	}

	d.staleCount = 0
	for b := 0; b < d.blockCount; b++ {
		if d.mostRecent[b] > d.currentVersion[b] &&
			d.mostRecent[b]+2 < d.timestamp &&
			d.currentVersion[b]+2 < d.timestamp {
			d.errors[b].Score = maxScore
			d.staleCount++
		}
	}

	sort.Slice(d.errors, func(i, j int) bool {
		if d.errors[i].Score != d.errors[j].Score {
			return d.errors[i].Score > d.errors[j].Score
		}
		return d.errors[i].BlockID < d.errors[j].BlockID
	})

	return d.errors, nil
}

// ApplyUpdates advances CD's view of client state after the encoder has
// emitted payloads for the given blocks (in priority order, stopping at
// the caller's chosen cutoff — typically the first zero-score entry).
// For each block it marks most_recent[b] = timestamp and copies the
// macroblock's 16x16 pixels from capture into the mirror, converting
// BGRx -> RGB.
func (d *Detector) ApplyUpdates(capture []byte, blockIDs []int) {
	for _, b := range blockIDs {
		d.mostRecent[b] = d.timestamp
		d.copyBlockToMirror(capture, b)
	}
}

func (d *Detector) copyBlockToMirror(capture []byte, block int) {
	row := block / d.blocksX
	col := block % d.blocksX
	x0 := col * MacroblockSize
	y0 := row * MacroblockSize
	for y := y0; y < y0+MacroblockSize; y++ {
		srcRow := y*d.width + x0
		dstRow := y*d.width + x0
		for x := 0; x < MacroblockSize; x++ {
			c := capture[4*(srcRow+x) : 4*(srcRow+x)+3]
			m := d.mirror[3*(dstRow+x) : 3*(dstRow+x)+3]
			m[0] = c[2] // R
			m[1] = c[1] // G
			m[2] = c[0] // B
		}
	}
}

// AckPackets applies an acknowledgement for the given block ids at frame
// timestamp ts, monotonically advancing current_version (§4.5 contract:
// "current_version[b] = max(current_version[b], ts)").
func (d *Detector) AckPackets(ts uint32, blockIDs []uint16) {
	for _, b := range blockIDs {
		if int(b) >= d.blockCount {
			continue
		}
		if ts > d.currentVersion[b] {
			d.currentVersion[b] = ts
		}
	}
}

// NextTimestamp increments and returns CD's frame timestamp counter,
// called once per non-initial frame emission (§3 "Timestamp").
func (d *Detector) NextTimestamp() uint32 {
	d.timestamp++
	return d.timestamp
}

// StaleCount returns the number of blocks whose score was forced to the
// staleness-escalation maximum by the most recent ComputeErrors call.
func (d *Detector) StaleCount() int { return d.staleCount }

// CurrentVersion and MostRecent expose the version vectors read-only, for
// tests verifying the §8 invariant current_version[b] <= most_recent[b] <= timestamp.
func (d *Detector) CurrentVersion(b int) uint32 { return d.currentVersion[b] }
func (d *Detector) MostRecent(b int) uint32     { return d.mostRecent[b] }
