package geometry

import "testing"

func TestNewMonitorSingleMidpointWhenSpanFitsView(t *testing.T) {
	m := NewMonitor("Small", ViewWidth, ViewHeight, 0, 0, true)
	if len(m.MidpointsX) != 1 || m.MidpointsX[0] != ViewWidth/2 {
		t.Fatalf("expected a single midpoint at %d, got %v", ViewWidth/2, m.MidpointsX)
	}
	if len(m.MidpointsY) != 1 || m.MidpointsY[0] != ViewHeight/2 {
		t.Fatalf("expected a single midpoint at %d, got %v", ViewHeight/2, m.MidpointsY)
	}
}

func TestNewMonitorPartitionsLargerSpan(t *testing.T) {
	m := NewMonitor("Wide", 1920, 1080, 0, 0, true)

	wantX := []int{320, 960, 1600}
	if len(m.MidpointsX) != len(wantX) {
		t.Fatalf("midpoints_x: got %v, want %v", m.MidpointsX, wantX)
	}
	for i, x := range wantX {
		if m.MidpointsX[i] != x {
			t.Fatalf("midpoints_x[%d]: got %d, want %d (full: %v)", i, m.MidpointsX[i], x, m.MidpointsX)
		}
	}

	wantY := []int{184, 540, 896}
	if len(m.MidpointsY) != len(wantY) {
		t.Fatalf("midpoints_y: got %v, want %v", m.MidpointsY, wantY)
	}
	for i, y := range wantY {
		if m.MidpointsY[i] != y {
			t.Fatalf("midpoints_y[%d]: got %d, want %d (full: %v)", i, m.MidpointsY[i], y, m.MidpointsY)
		}
	}

	// First and last midpoints must always bound the full span, per the
	// overlapping-window partition described in monitor.go.
	if m.MidpointsX[0] != ViewWidth/2 {
		t.Fatalf("first x midpoint must be view/2, got %d", m.MidpointsX[0])
	}
	last := len(m.MidpointsX) - 1
	if m.MidpointsX[last] != m.Width-ViewWidth/2 {
		t.Fatalf("last x midpoint must be width-view/2, got %d", m.MidpointsX[last])
	}
}

func TestSegmentProducesFixedViewDimensions(t *testing.T) {
	m := NewMonitor("Wide", 1920, 1080, 100, 50, true)
	ox, oy, w, h, err := m.Segment(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != ViewWidth || h != ViewHeight {
		t.Fatalf("segment dimensions: got %dx%d, want %dx%d", w, h, ViewWidth, ViewHeight)
	}
	// Offsets must be absolute screen coordinates: monitor offset plus the
	// clamped view origin within the monitor.
	if ox < m.OffsetX || oy < m.OffsetY {
		t.Fatalf("segment origin (%d,%d) must be at or past the monitor offset (%d,%d)", ox, oy, m.OffsetX, m.OffsetY)
	}
}

func TestSegmentClampsAtMonitorEdges(t *testing.T) {
	m := NewMonitor("Wide", 1920, 1080, 0, 0, true)
	last := len(m.MidpointsX) - 1

	// The rightmost segment's origin must not push the view past the
	// monitor's right edge.
	ox, _, w, _, err := m.Segment(last, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ox+w > m.Width {
		t.Fatalf("rightmost segment overruns monitor width: ox=%d w=%d width=%d", ox, w, m.Width)
	}

	// The leftmost segment's origin must never go negative.
	ox, _, _, _, err = m.Segment(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ox < m.OffsetX {
		t.Fatalf("leftmost segment origin %d below monitor offset %d", ox, m.OffsetX)
	}
}

func TestSegmentOutOfRangeIndexErrors(t *testing.T) {
	m := NewMonitor("Wide", 1920, 1080, 0, 0, true)
	if _, _, _, _, err := m.Segment(len(m.MidpointsX), 0); err == nil {
		t.Fatal("expected error for out-of-range x segment index")
	}
	if _, _, _, _, err := m.Segment(0, len(m.MidpointsY)); err == nil {
		t.Fatal("expected error for out-of-range y segment index")
	}
	if _, _, _, _, err := m.Segment(-1, 0); err == nil {
		t.Fatal("expected error for negative segment index")
	}
}
