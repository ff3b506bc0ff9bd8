package changedet

import "testing"

func TestNewRejectsNonMultipleOf16(t *testing.T) {
	if _, err := New(17, 32); err == nil {
		t.Fatal("expected error for width not a multiple of 16")
	}
	if _, err := New(32, 33); err == nil {
		t.Fatal("expected error for height not a multiple of 16")
	}
}

func TestBlockLookupFormula(t *testing.T) {
	d, err := New(32, 32)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			want := (y/16)*(d.width/16) + x/16
			got := d.blockOf[y*d.width+x]
			if got != want {
				t.Fatalf("blockOf[%d,%d] = %d, want %d", x, y, got, want)
			}
		}
	}
}

func solidCapture(w, h int, b, g, r byte) []byte {
	buf := make([]byte, w*h*4)
	for i := 0; i < w*h; i++ {
		buf[4*i] = b
		buf[4*i+1] = g
		buf[4*i+2] = r
	}
	return buf
}

func TestComputeErrorsZeroOnMatchingMirror(t *testing.T) {
	d, _ := New(16, 16)
	capture := solidCapture(16, 16, 0, 0, 0) // mirror starts all-zero too
	errs, err := d.ComputeErrors(capture)
	if err != nil {
		t.Fatalf("ComputeErrors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected 1 block, got %d", len(errs))
	}
	if errs[0].Score != 0 {
		t.Fatalf("expected zero score for matching mirror, got %d", errs[0].Score)
	}
}

func TestComputeErrorsSortedDescendingTiesAscending(t *testing.T) {
	d, _ := New(48, 16) // 3x1 macroblocks
	capture := make([]byte, 48*16*4)
	// Make block 1 differ; blocks 0 and 2 match (mirror is zero) and tie at 0.
	for x := 16; x < 32; x++ {
		for y := 0; y < 16; y++ {
			i := y*48 + x
			capture[4*i+2] = 200 // R differs
		}
	}
	errs, err := d.ComputeErrors(capture)
	if err != nil {
		t.Fatalf("ComputeErrors: %v", err)
	}
	if errs[0].BlockID != 1 {
		t.Fatalf("expected block 1 (changed) first, got block %d", errs[0].BlockID)
	}
	if errs[0].Score <= errs[1].Score {
		t.Fatalf("expected descending scores, got %d then %d", errs[0].Score, errs[1].Score)
	}
	if errs[1].BlockID != 0 || errs[2].BlockID != 2 {
		t.Fatalf("expected tied zero-score blocks in ascending id order 0, 2, got %d, %d", errs[1].BlockID, errs[2].BlockID)
	}
}

func TestStalenessEscalationAfterThreeUnackedFrames(t *testing.T) {
	d, _ := New(16, 16)
	capture := solidCapture(16, 16, 10, 10, 10) // always differs from zero mirror

	// Frame ts=1: send (mark most_recent=1), never ack.
	ts := d.NextTimestamp()
	errs, _ := d.ComputeErrors(capture)
	if ts != 1 {
		t.Fatalf("ts = %d, want 1", ts)
	}
	ids := blockIDsWithPositiveScore(errs)
	d.ApplyUpdates(capture, ids)

	// Frame ts=2: still unacked.
	d.NextTimestamp()
	d.ComputeErrors(capture)

	// Frame ts=3: still unacked.
	d.NextTimestamp()
	d.ComputeErrors(capture)

	// Frame ts=4: most_recent(1) + 2 < 4 AND current_version(0) + 2 < 4 -> escalate.
	d.NextTimestamp()
	errs, err := d.ComputeErrors(capture)
	if err != nil {
		t.Fatalf("ComputeErrors: %v", err)
	}
	if errs[0].Score != maxScore {
		t.Fatalf("expected staleness escalation to maxScore at ts=4, got %d", errs[0].Score)
	}
}

func blockIDsWithPositiveScore(errs []Error) []int {
	var ids []int
	for _, e := range errs {
		if e.Score <= 0 {
			break
		}
		ids = append(ids, e.BlockID)
	}
	return ids
}

func TestAckPacketsIsMonotone(t *testing.T) {
	d, _ := New(16, 16)
	d.AckPackets(5, []uint16{0})
	if d.CurrentVersion(0) != 5 {
		t.Fatalf("current_version = %d, want 5", d.CurrentVersion(0))
	}
	d.AckPackets(3, []uint16{0}) // stale/out-of-order ack must not regress
	if d.CurrentVersion(0) != 5 {
		t.Fatalf("current_version regressed to %d after stale ack", d.CurrentVersion(0))
	}
	d.AckPackets(9, []uint16{0})
	if d.CurrentVersion(0) != 9 {
		t.Fatalf("current_version = %d, want 9", d.CurrentVersion(0))
	}
}

func TestApplyUpdatesCopiesMirrorAndSetsMostRecent(t *testing.T) {
	d, _ := New(16, 16)
	d.NextTimestamp() // ts=1
	capture := solidCapture(16, 16, 1, 2, 3)
	d.ApplyUpdates(capture, []int{0})

	if d.MostRecent(0) != 1 {
		t.Fatalf("most_recent = %d, want 1", d.MostRecent(0))
	}
	if d.mirror[0] != 3 || d.mirror[1] != 2 || d.mirror[2] != 1 {
		t.Fatalf("mirror not updated to RGB(3,2,1), got %v", d.mirror[:3])
	}

	// After the copy, recomputing errors against the same capture scores zero.
	errs, _ := d.ComputeErrors(capture)
	if errs[0].Score != 0 {
		t.Fatalf("expected zero score after mirror sync, got %d", errs[0].Score)
	}
}

func TestChangeViewResetsTimestampAndState(t *testing.T) {
	d, _ := New(16, 16)
	d.NextTimestamp()
	d.NextTimestamp()
	if d.Timestamp() != 2 {
		t.Fatalf("timestamp = %d, want 2", d.Timestamp())
	}
	if err := d.ChangeView(32, 32); err != nil {
		t.Fatalf("ChangeView: %v", err)
	}
	if d.Timestamp() != 0 {
		t.Fatalf("timestamp after ChangeView = %d, want 0", d.Timestamp())
	}
	if d.BlockCount() != 4 {
		t.Fatalf("BlockCount = %d, want 4", d.BlockCount())
	}
}

func TestInvariantCurrentVersionNeverExceedsMostRecentOrTimestamp(t *testing.T) {
	d, _ := New(16, 16)
	for i := 0; i < 5; i++ {
		// A new colour every frame keeps block 0 changed, so it is sent in
		// every frame and each ack below covers a block actually sent at ts.
		capture := solidCapture(16, 16, byte(9+i), byte(9+i), byte(9+i))
		ts := d.NextTimestamp()
		errs, _ := d.ComputeErrors(capture)
		ids := blockIDsWithPositiveScore(errs)
		d.ApplyUpdates(capture, ids)
		if i%2 == 0 {
			d.AckPackets(ts, []uint16{0})
		}
		if d.CurrentVersion(0) > d.MostRecent(0) || d.MostRecent(0) > d.Timestamp() {
			t.Fatalf("invariant violated: current=%d most_recent=%d timestamp=%d",
				d.CurrentVersion(0), d.MostRecent(0), d.Timestamp())
		}
	}
}
