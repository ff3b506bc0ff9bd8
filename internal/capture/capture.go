// Package capture defines the external collaborator interfaces (§6) this
// server depends on but does not implement in full: display capture,
// pointer/keyboard injection, and monitor enumeration. Linux gets an
// xdotool-backed Input; screen capture has only StubScreen, whose Grab
// reports ErrNotSupported on every platform, plus the in-memory
// MemoryScreen used by tests. StubInput and StaticEnumerator stand in for
// the other two collaborators. This follows the teacher's
// internal/remote/desktop capturer-factory pattern.
package capture

import (
	"errors"

	"github.com/breeze-rmm/screend/internal/geometry"
)

// ErrNotSupported is returned when screen capture is not implemented on
// the running platform.
var ErrNotSupported = errors.New("capture: not supported on this platform")

// ErrDisplayNotFound is returned when the requested display index does not
// exist.
var ErrDisplayNotFound = errors.New("capture: display not found")

// Frame is a raw BGRx capture buffer: 4 bytes/pixel, scanline-contiguous,
// W*H pixels. The caller owns it from the return of Grab until its next
// Grab call; there is no separate release call.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
}

// Screen is the capture collaborator interface (§6): grab_image / pixel
// access, scoped to a view rectangle within a display.
type Screen interface {
	// Grab captures the rectangle (ox,oy)-(ox+w,oy+h) of the given display
	// index and returns a BGRx frame. The caller owns the returned Frame
	// until the next Grab call.
	Grab(displayIndex, ox, oy, w, h int) (Frame, error)
	// Close releases any resources (display connection, window handle)
	// held by the capturer.
	Close() error
}

// Input is the pointer/keyboard injection collaborator interface (§6).
type Input interface {
	MoveMouse(x, y int) error
	Click(button int) error
	MouseDown(button int) error
	MouseUp(button int) error
	SendKeysequence(seq []byte) error
}

// Enumerator is the monitor enumeration collaborator interface (§6).
type Enumerator interface {
	List() ([]geometry.Monitor, error)
}

const (
	MouseButtonLeft  = 1
	MouseButtonRight = 2
)
