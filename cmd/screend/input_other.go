//go:build !linux

package main

import "github.com/breeze-rmm/screend/internal/capture"

// newXdotoolInput has no xdotool backend outside Linux; the caller falls
// back to capture.StubInput.
func newXdotoolInput() capture.Input {
	return nil
}
