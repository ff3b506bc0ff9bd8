package jpegenc

import (
	"fmt"
	"math"
)

// Encoder turns RGB macroblocks into self-contained baseline-JPEG entropy
// bitstreams: for each of the four 8x8 quadrants of a 16x16 macroblock, one
// Y, one Cb and one Cr block (4:4:4, not 4:2:0 — matching the reference encoder,
// which computes chroma independently per quadrant rather than
// subsampling it). Every macroblock's first ten bits of output are its
// block id (§4.3), and its DC coefficients are coded as absolute values
// rather than against a running predictor, so macroblocks can be decoded
// independently once reassembled from the wire.
type Encoder struct {
	width, height int
	blocksX       int
	blocksY       int
}

// NewEncoder constructs an Encoder for a W x H view. W and H must both be
// multiples of 16 (the caller, the Session Controller, enforces this via
// the same geometry the Change Detector validates).
func NewEncoder(width, height int) *Encoder {
	return &Encoder{
		width:   width,
		height:  height,
		blocksX: width / 16,
		blocksY: height / 16,
	}
}

// EncodeMacroblock encodes the 16x16 macroblock identified by blockID from
// a full-frame RGB buffer (stride width*3), returning its entropy-coded
// bytes with the block id packed into the first ten bits.
func (e *Encoder) EncodeMacroblock(rgb []byte, blockID int) ([]byte, error) {
	if blockID < 0 || blockID >= e.blocksX*e.blocksY {
		return nil, fmt.Errorf("jpegenc: block id %d out of range for %dx%d view", blockID, e.width, e.height)
	}
	row := blockID / e.blocksX
	col := blockID % e.blocksX
	x0 := col * 16
	y0 := row * 16

	bw := &bitWriter{}
	bw.writeBits(uint16(blockID), 10)

	var yblock, cbBlock, crBlock [64]byte
	var dctY, dctCb, dctCr [64]int32

	for j := 0; j < 2; j++ {
		for i := 0; i < 2; i++ {
			bx := x0 + 8*i
			by := y0 + 8*j
			fillYCbCrBlock(rgb, e.width, bx, by, &yblock, &cbBlock, &crBlock)

			fdct(&yblock, &dctY)
			fdct(&cbBlock, &dctCb)
			fdct(&crBlock, &dctCr)

			quantize(&dctY, &stdLumaQTable)
			quantize(&dctCb, &stdChromaQTable)
			quantize(&dctCr, &stdChromaQTable)

			writeBlock(bw, &dctY, lumaDCTable, lumaACTable)
			writeBlock(bw, &dctCb, chromaDCTable, chromaACTable)
			writeBlock(bw, &dctCr, chromaDCTable, chromaACTable)
		}
	}
	bw.writeFinalBits()
	return bw.out, nil
}

// EncodeFirstImage encodes every macroblock of the view in raster order,
// for the initial full-frame transmission (§4.3 FirstImage).
func (e *Encoder) EncodeFirstImage(rgb []byte) ([][]byte, error) {
	out := make([][]byte, 0, e.blocksX*e.blocksY)
	for b := 0; b < e.blocksX*e.blocksY; b++ {
		payload, err := e.EncodeMacroblock(rgb, b)
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

// EncodeChanged encodes the given block ids in order, for a
// DataAndErrors frame (§4.3). Callers pass only the blocks the Change
// Detector scored above zero, already sorted by priority.
func (e *Encoder) EncodeChanged(rgb []byte, blockIDs []int) ([][]byte, error) {
	out := make([][]byte, 0, len(blockIDs))
	for _, b := range blockIDs {
		payload, err := e.EncodeMacroblock(rgb, b)
		if err != nil {
			return nil, err
		}
		out = append(out, payload)
	}
	return out, nil
}

// fillYCbCrBlock reads an 8x8 pixel window starting at (bx, by) from a
// full-frame RGB buffer and converts it to separate Y, Cb, Cr planes.
func fillYCbCrBlock(rgb []byte, stride int, bx, by int, yb, cb, cr *[64]byte) {
	for y := 0; y < 8; y++ {
		rowOff := (by+y)*stride*3 + bx*3
		for x := 0; x < 8; x++ {
			i := rowOff + x*3
			r, g, b := rgb[i], rgb[i+1], rgb[i+2]
			yv, cbv, crv := rgbToYCbCr(r, g, b)
			idx := y*8 + x
			yb[idx] = yv
			cb[idx] = cbv
			cr[idx] = crv
		}
	}
}

// rgbToYCbCr applies the BT.601 full-range conversion used by the
// reference encoder.
func rgbToYCbCr(r, g, b byte) (y, cb, cr byte) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	yv := 0.299*rf + 0.587*gf + 0.114*bf
	cbv := -0.1687*rf - 0.3313*gf + 0.5*bf + 128
	crv := 0.5*rf - 0.4187*gf - 0.0813*bf + 128
	return byte(yv), byte(cbv), byte(crv)
}

// quantize divides the scaled DCT coefficients by 8 (undoing fdctScale,
// truncating as the reference's integer division does) and then by the
// table's per-coefficient quantum, rounding to the nearest integer.
func quantize(block *[64]int32, table *[64]byte) {
	for i := range block {
		intDiv := block[i] / 8
		block[i] = int32(math.Round(float64(intDiv) / float64(table[i])))
	}
}

// writeBlock entropy-codes one already-quantized 8x8 block: an absolute
// (non-differential) DC coefficient, followed by the AC coefficients in
// zigzag scan order with run-length zero coding (JPEG Figure F.2).
func writeBlock(bw *bitWriter, block *[64]int32, dcTable, acTable []huffCode) {
	size, value := encodeCoefficient(block[0])
	huffmanEncode(bw, size, dcTable)
	bw.writeBits(value, size)

	zeroRun := 0
	for k := 1; k < 64; k++ {
		coeff := block[unzigzag[k]]
		if coeff == 0 {
			if k == 63 {
				huffmanEncode(bw, 0x00, acTable) // EOB
				break
			}
			zeroRun++
			continue
		}
		for zeroRun > 15 {
			huffmanEncode(bw, 0xF0, acTable) // ZRL
			zeroRun -= 16
		}
		s, v := encodeCoefficient(coeff)
		symbol := byte(zeroRun<<4) | s
		huffmanEncode(bw, symbol, acTable)
		bw.writeBits(v, s)
		zeroRun = 0
	}
}

func huffmanEncode(bw *bitWriter, symbol byte, table []huffCode) {
	c := table[symbol]
	bw.writeBits(c.code, c.size)
}

// encodeCoefficient implements JPEG's signed-magnitude coefficient coding:
// the size category (bit length of the magnitude) and the value bits,
// with negative coefficients encoded as one's-complement-like (coeff-1)
// masked to size bits.
func encodeCoefficient(coefficient int32) (size uint8, value uint16) {
	magnitude := coefficient
	if magnitude < 0 {
		magnitude = -magnitude
	}
	var numBits uint8
	for magnitude > 0 {
		magnitude >>= 1
		numBits++
	}
	mask := uint16(1)<<numBits - 1

	if coefficient < 0 {
		value = uint16(coefficient-1) & mask
	} else {
		value = uint16(coefficient) & mask
	}
	return numBits, value
}
