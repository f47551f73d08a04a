package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// InputEvent is a user interaction forwarded to a session page.
type InputEvent struct {
	Type   string  `json:"type"` // click | move | wheel | key | type
	X      float64 `json:"x,omitempty"`
	Y      float64 `json:"y,omitempty"`
	Button string  `json:"button,omitempty"` // left (default) | right | middle
	DeltaX float64 `json:"deltaX,omitempty"`
	DeltaY float64 `json:"deltaY,omitempty"`
	Key    string  `json:"key,omitempty"`
	Text   string  `json:"text,omitempty"`
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Backspace":  input.Backspace,
	"Escape":     input.Escape,
	"Space":      input.Space,
	"Delete":     input.Delete,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
}

var mouseButtons = map[string]proto.InputMouseButton{
	"":       proto.InputMouseButtonLeft,
	"left":   proto.InputMouseButtonLeft,
	"right":  proto.InputMouseButtonRight,
	"middle": proto.InputMouseButtonMiddle,
}

// Validate rejects events that cannot be dispatched.
func (ev InputEvent) Validate() error {
	switch ev.Type {
	case "click":
		if _, ok := mouseButtons[ev.Button]; !ok {
			return fmt.Errorf("%w: unknown button %q", ErrBadInput, ev.Button)
		}
	case "move", "wheel":
	case "key":
		if _, ok := namedKeys[ev.Key]; !ok && len([]rune(ev.Key)) != 1 {
			return fmt.Errorf("%w: unknown key %q", ErrBadInput, ev.Key)
		}
	case "type":
		if ev.Text == "" {
			return fmt.Errorf("%w: empty text", ErrBadInput)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadInput, ev.Type)
	}
	return nil
}

// Input dispatches ev through the DevTools Input domain.
func (p *Page) Input(ctx context.Context, ev InputEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	pg := p.page.Context(ctx)

	var err error
	switch ev.Type {
	case "move":
		err = proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseMoved, X: ev.X, Y: ev.Y,
		}.Call(pg)
	case "wheel":
		err = proto.InputDispatchMouseEvent{
			Type: proto.InputDispatchMouseEventTypeMouseWheel, X: ev.X, Y: ev.Y,
			DeltaX: ev.DeltaX, DeltaY: ev.DeltaY,
		}.Call(pg)
	case "click":
		btn := mouseButtons[ev.Button]
		for _, t := range []proto.InputDispatchMouseEventType{
			proto.InputDispatchMouseEventTypeMouseMoved,
			proto.InputDispatchMouseEventTypeMousePressed,
			proto.InputDispatchMouseEventTypeMouseReleased,
		} {
			me := proto.InputDispatchMouseEvent{Type: t, X: ev.X, Y: ev.Y}
			if t != proto.InputDispatchMouseEventTypeMouseMoved {
				me.Button = btn
				me.ClickCount = 1
			}
			if err = me.Call(pg); err != nil {
				break
			}
		}
	case "key":
		k, named := namedKeys[ev.Key]
		if !named {
			err = proto.InputInsertText{Text: ev.Key}.Call(pg)
			break
		}
		if err = k.Encode(proto.InputDispatchKeyEventTypeKeyDown, 0).Call(pg); err == nil {
			err = k.Encode(proto.InputDispatchKeyEventTypeKeyUp, 0).Call(pg)
		}
	case "type":
		err = proto.InputInsertText{Text: ev.Text}.Call(pg)
	}
	if err != nil {
		return fmt.Errorf("browser: input %s: %w", ev.Type, err)
	}
	return nil
}
