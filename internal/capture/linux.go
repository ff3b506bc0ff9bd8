//go:build linux

package capture

import (
	"fmt"
	"os/exec"
	"strconv"
)

// XdotoolInput drives pointer/keyboard injection via the xdotool CLI,
// matching the teacher's LinuxInputHandler (internal/remote/desktop
// input_linux.go), narrowed to the opcodes this protocol actually carries:
// LeftClick, RightClick, DoubleClick, Drag, Keyboard.
type XdotoolInput struct{}

// NewXdotoolInput returns an Input backed by the xdotool binary, which must
// be present on PATH.
func NewXdotoolInput() *XdotoolInput { return &XdotoolInput{} }

func (x *XdotoolInput) run(args ...string) error {
	cmd := exec.Command("xdotool", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("capture: xdotool %v: %w (%s)", args, err, out)
	}
	return nil
}

func (x *XdotoolInput) MoveMouse(xpos, ypos int) error {
	return x.run("mousemove", strconv.Itoa(xpos), strconv.Itoa(ypos))
}

func (x *XdotoolInput) Click(button int) error {
	return x.run("click", strconv.Itoa(button))
}

func (x *XdotoolInput) MouseDown(button int) error {
	return x.run("mousedown", strconv.Itoa(button))
}

func (x *XdotoolInput) MouseUp(button int) error {
	return x.run("mouseup", strconv.Itoa(button))
}

func (x *XdotoolInput) SendKeysequence(seq []byte) error {
	return x.run("type", "--", string(seq))
}
