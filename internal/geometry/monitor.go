// Package geometry computes view/segment placement over enumerated
// monitors: the 640x368 viewport grid and the midpoint partitioning
// algorithm described in spec §6, recovered in full from
// monitor_info.rs::new in the original implementation.
package geometry

import "fmt"

// ViewWidth and ViewHeight are the fixed dimensions of a view/segment
// viewport. Both are multiples of 16, satisfying the macroblock-grid
// divisibility invariant CD enforces at construction.
const (
	ViewWidth  = 640
	ViewHeight = 368
)

// Monitor describes one enumerated display output and its midpoint grid.
type Monitor struct {
	Name       string
	Width      int
	Height     int
	OffsetX    int
	OffsetY    int
	IsPrimary  bool
	MidpointsX []int
	MidpointsY []int
}

// NewMonitor computes a Monitor's midpoint grid from its physical
// dimensions. Width and Height are the monitor's pixel dimensions;
// OffsetX/OffsetY position it within the virtual desktop.
func NewMonitor(name string, width, height, offsetX, offsetY int, primary bool) Monitor {
	return Monitor{
		Name:       name,
		Width:      width,
		Height:     height,
		OffsetX:    offsetX,
		OffsetY:    offsetY,
		IsPrimary:  primary,
		MidpointsX: midpoints(width, ViewWidth),
		MidpointsY: midpoints(height, ViewHeight),
	}
}

// midpoints partitions a dimension of size `span` into overlapping windows
// of size `view`, returning the window-centre coordinates. The first
// midpoint is always at view/2, the last at span-view/2; intermediate
// midpoints are evenly spaced so that consecutive windows overlap by just
// enough to cover the whole span.
func midpoints(span, view int) []int {
	half := view / 2
	if span <= view {
		return []int{half}
	}
	n := span / view
	if span%view != 0 {
		n++
	}
	if n < 2 {
		return []int{half}
	}
	out := make([]int, n)
	out[0] = half
	out[n-1] = span - half
	for i := 1; i < n-1; i++ {
		out[i] = half + i*(span-view)/(n-1)
	}
	return out
}

// Segment resolves a (midpoint-x index, midpoint-y index) pair to a view
// rectangle in absolute screen coordinates.
func (m Monitor) Segment(xIdx, yIdx int) (ox, oy, w, h int, err error) {
	if xIdx < 0 || xIdx >= len(m.MidpointsX) || yIdx < 0 || yIdx >= len(m.MidpointsY) {
		return 0, 0, 0, 0, fmt.Errorf("geometry: segment (%d,%d) out of range for monitor %q", xIdx, yIdx, m.Name)
	}
	cx := m.MidpointsX[xIdx]
	cy := m.MidpointsY[yIdx]
	ox = m.OffsetX + clampOrigin(cx-ViewWidth/2, m.Width-ViewWidth)
	oy = m.OffsetY + clampOrigin(cy-ViewHeight/2, m.Height-ViewHeight)
	return ox, oy, ViewWidth, ViewHeight, nil
}

func clampOrigin(origin, max int) int {
	if origin < 0 {
		return 0
	}
	if max < 0 {
		return 0
	}
	if origin > max {
		return max
	}
	return origin
}
