package relay

import (
	"fmt"

	"github.com/breeze-rmm/screenhost/internal/remote/desktop"
)

// EventType names one kind of input event.
type EventType string

const (
	PointerMove    EventType = "pointer_move"
	PointerPress   EventType = "pointer_press"
	PointerRelease EventType = "pointer_release"
	Wheel          EventType = "wheel"
	KeyPress       EventType = "key_press"
	KeyRelease     EventType = "key_release"
)

// InputEvent is one client input event. Coordinates are in the global
// coordinate space of the host, buttons are 1 (left), 2 (middle) and
// 3 (right), and key codes are X11 keysyms.
type InputEvent struct {
	Type   EventType `json:"type"`
	X      int       `json:"x,omitempty"`
	Y      int       `json:"y,omitempty"`
	Button int       `json:"button,omitempty"`
	Amount int       `json:"amount,omitempty"`
	Code   int       `json:"code,omitempty"`
}

// Player replays one event on a control surface.
type Player func(surface desktop.ControlSurface, ev InputEvent) error

// Replay is the default Player.
func Replay(surface desktop.ControlSurface, ev InputEvent) error {
	switch ev.Type {
	case PointerMove:
		return surface.PointerMove(ev.X, ev.Y)
	case PointerPress:
		return surface.PointerPress(ev.Button)
	case PointerRelease:
		return surface.PointerRelease(ev.Button)
	case Wheel:
		return surface.Wheel(ev.Amount)
	case KeyPress:
		return surface.KeyPress(ev.Code)
	case KeyRelease:
		return surface.KeyRelease(ev.Code)
	default:
		return fmt.Errorf("unknown input event type %q", ev.Type)
	}
}
