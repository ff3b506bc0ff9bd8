package jpegenc

import "testing"

func solidRGB(width, height int, r, g, b byte) []byte {
	buf := make([]byte, width*height*3)
	for i := 0; i < width*height; i++ {
		buf[3*i] = r
		buf[3*i+1] = g
		buf[3*i+2] = b
	}
	return buf
}

func TestEncodeMacroblockEmbedsBlockID(t *testing.T) {
	e := NewEncoder(32, 16)
	rgb := solidRGB(32, 16, 10, 20, 30)

	payload, err := e.EncodeMacroblock(rgb, 1)
	if err != nil {
		t.Fatalf("EncodeMacroblock: %v", err)
	}
	if len(payload) < 2 {
		t.Fatalf("payload too short: %d bytes", len(payload))
	}
	got := uint16(payload[0])<<2 | uint16(payload[1])>>6
	if got != 1 {
		t.Fatalf("embedded block id = %d, want 1", got)
	}
}

func TestEncodeMacroblockRejectsOutOfRange(t *testing.T) {
	e := NewEncoder(16, 16)
	if _, err := e.EncodeMacroblock(make([]byte, 16*16*3), 1); err == nil {
		t.Fatal("expected error for out-of-range block id")
	}
}

func TestEncodeFirstImageCoversEveryBlockInRasterOrder(t *testing.T) {
	e := NewEncoder(32, 32) // 2x2 macroblocks
	rgb := solidRGB(32, 32, 5, 5, 5)

	payloads, err := e.EncodeFirstImage(rgb)
	if err != nil {
		t.Fatalf("EncodeFirstImage: %v", err)
	}
	if len(payloads) != 4 {
		t.Fatalf("expected 4 macroblocks, got %d", len(payloads))
	}
	for i, p := range payloads {
		got := uint16(p[0])<<2 | uint16(p[1])>>6
		if int(got) != i {
			t.Fatalf("payload %d has embedded block id %d", i, got)
		}
	}
}

func TestEncodeCoefficientSizeAndSign(t *testing.T) {
	cases := []struct {
		coeff    int32
		wantSize uint8
	}{
		{0, 0},
		{1, 1},
		{-1, 1},
		{3, 2},
		{-4, 3},
	}
	for _, c := range cases {
		size, _ := encodeCoefficient(c.coeff)
		if size != c.wantSize {
			t.Fatalf("encodeCoefficient(%d) size = %d, want %d", c.coeff, size, c.wantSize)
		}
	}
}

func TestEncodeChangedProducesOnePayloadPerBlock(t *testing.T) {
	e := NewEncoder(32, 32)
	rgb := solidRGB(32, 32, 1, 2, 3)
	payloads, err := e.EncodeChanged(rgb, []int{3, 0})
	if err != nil {
		t.Fatalf("EncodeChanged: %v", err)
	}
	if len(payloads) != 2 {
		t.Fatalf("expected 2 payloads, got %d", len(payloads))
	}
	if got := uint16(payloads[0][0])<<2 | uint16(payloads[0][1])>>6; got != 3 {
		t.Fatalf("first payload block id = %d, want 3", got)
	}
}
