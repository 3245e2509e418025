// Package input injects remote mouse and keyboard events.
package input

import (
	"fmt"
	"log/slog"

	"github.com/go-vgo/robotgo"
)

// Injector performs input injection on the host.
type Injector interface {
	MoveCursor(xPct, yPct float64) error
	Click(button, action string) error
	PressKey(key string) error
}

// Robot injects events through robotgo.
type Robot struct {
	logger *slog.Logger
}

// New creates the robotgo-backed injector.
func New(logger *slog.Logger) *Robot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Robot{logger: logger}
}

// MoveCursor positions the cursor at a fraction of the primary screen.
// Coordinates arrive as 0.0-1.0 so viewers never need the remote resolution.
func (r *Robot) MoveCursor(xPct, yPct float64) error {
	if xPct < 0 || xPct > 1 || yPct < 0 || yPct > 1 {
		return fmt.Errorf("cursor position out of range: %.3f,%.3f", xPct, yPct)
	}
	w, h := robotgo.GetScreenSize()
	robotgo.Move(int(xPct*float64(w)), int(yPct*float64(h)))
	return nil
}

// Click presses, releases, or clicks a mouse button.
func (r *Robot) Click(button, action string) error {
	switch button {
	case "left", "right", "center":
	case "middle":
		button = "center"
	default:
		return fmt.Errorf("unknown mouse button %q", button)
	}

	switch action {
	case "down":
		robotgo.Toggle(button, "down")
	case "up":
		robotgo.Toggle(button, "up")
	case "click", "":
		robotgo.Click(button)
	case "double":
		robotgo.Click(button, true)
	default:
		return fmt.Errorf("unknown mouse action %q", action)
	}
	return nil
}

// PressKey taps a key by its robotgo name ("a", "enter", "f5", ...).
func (r *Robot) PressKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty key")
	}
	if err := robotgo.KeyTap(key); err != nil {
		return fmt.Errorf("key tap %q: %w", key, err)
	}
	return nil
}
