//go:build linux

package main

import "github.com/breeze-rmm/screend/internal/capture"

// newXdotoolInput returns the real xdotool-backed Input on Linux.
func newXdotoolInput() capture.Input {
	return capture.NewXdotoolInput()
}
