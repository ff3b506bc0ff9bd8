package capture

import "sync/atomic"

// MemoryScreen is an in-memory Screen backed by a caller-supplied BGRx
// buffer, used by changedet/session tests in place of a real display
// connection. Close also doubles as a test hook for simulating a capture
// backend that starts failing mid-session (§7's capture-error path):
// tests can call Close at any point, from any goroutine, to make every
// subsequent Grab return ErrNotSupported.
type MemoryScreen struct {
	Pix    []byte
	Width  int
	Height int
	closed atomic.Bool
}

// NewMemoryScreen wraps a full-frame BGRx buffer of the given dimensions.
// Grab always returns the whole buffer regardless of the requested
// rectangle; tests construct it already cropped to the requested view.
func NewMemoryScreen(pix []byte, width, height int) *MemoryScreen {
	return &MemoryScreen{Pix: pix, Width: width, Height: height}
}

func (m *MemoryScreen) Grab(displayIndex, ox, oy, w, h int) (Frame, error) {
	if m.closed.Load() {
		return Frame{}, ErrNotSupported
	}
	return Frame{Pix: m.Pix, Width: m.Width, Height: m.Height}, nil
}

func (m *MemoryScreen) Close() error {
	m.closed.Store(true)
	return nil
}
