package capture

import "github.com/breeze-rmm/screend/internal/geometry"

// StubScreen is a Screen implementation that reports ErrNotSupported on
// every Grab call. It exists so the session wiring compiles and can be
// exercised end-to-end (handshake, view selection, teardown) on platforms
// or test environments lacking a real capture backend; a production
// deployment supplies a platform-specific Screen (e.g. an X11/DXGI
// capturer) behind the same interface.
type StubScreen struct{}

func NewStubScreen() *StubScreen { return &StubScreen{} }

func (s *StubScreen) Grab(displayIndex, ox, oy, w, h int) (Frame, error) {
	return Frame{}, ErrNotSupported
}

func (s *StubScreen) Close() error { return nil }

// StaticEnumerator returns a fixed monitor list, used when the platform has
// no real enumeration backend wired in (matching the teacher's
// ListMonitors stub for non-Windows platforms).
type StaticEnumerator struct {
	Monitors []geometry.Monitor
}

// NewDefaultEnumerator returns a StaticEnumerator describing a single
// 1920x1080 primary monitor at the origin.
func NewDefaultEnumerator() *StaticEnumerator {
	return &StaticEnumerator{Monitors: []geometry.Monitor{
		geometry.NewMonitor("Default", 1920, 1080, 0, 0, true),
	}}
}

func (e *StaticEnumerator) List() ([]geometry.Monitor, error) {
	return e.Monitors, nil
}

// StubInput is an Input implementation that accepts every call and does
// nothing, used for the "stub" input_backend setting and on platforms
// without a real injection backend wired in.
type StubInput struct{}

func NewStubInput() *StubInput { return &StubInput{} }

func (s *StubInput) MoveMouse(x, y int) error         { return nil }
func (s *StubInput) Click(button int) error           { return nil }
func (s *StubInput) MouseDown(button int) error       { return nil }
func (s *StubInput) MouseUp(button int) error         { return nil }
func (s *StubInput) SendKeysequence(seq []byte) error { return nil }
