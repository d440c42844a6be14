// Package touch maps two-thumb touch input onto a virtual joystick on the
// left half of the viewport and a look pad on the right half.
package touch

import (
	"math"
	"sync"

	"github.com/watashi-museum/museum/pkg/core"
)

// MaxRadius is the joystick travel, in pixels, that maps to full input.
const MaxRadius = 50.0

// Touch is one contact point of a touch event.
type Touch struct {
	ID int
	X  float64
	Y  float64
}

// Sink receives the adapter's output. *movement.Controller implements it.
type Sink interface {
	SetJoystick(v core.Vec2)
	AddLook(d core.Vec2)
}

type contact struct {
	id               int
	active           bool
	originX, originY float64
	lastX, lastY     float64
}

// Adapter tracks at most one joystick contact and one look contact.
type Adapter struct {
	mu       sync.Mutex
	width    float64
	sink     Sink
	joystick contact
	look     contact
	stick    core.Vec2
}

// New creates an adapter for a viewport of the given width, forwarding its
// output to sink. sink may be nil; output is then only readable through
// Joystick.
func New(viewportWidth float64, sink Sink) *Adapter {
	return &Adapter{width: viewportWidth, sink: sink}
}

// Resize updates the viewport width used to split the halves.
func (a *Adapter) Resize(width float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.width = width
}

// Joystick returns the current joystick output.
func (a *Adapter) Joystick() core.Vec2 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stick
}

// TouchStart claims new contacts. A contact left of the midpoint becomes the
// joystick, one right of it the look pad; each role holds one contact at a
// time and extra contacts are ignored.
func (a *Adapter) TouchStart(touches ...Touch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mid := a.width / 2
	for _, t := range touches {
		switch {
		case t.X < mid && !a.joystick.active:
			a.joystick = contact{id: t.ID, active: true, originX: t.X, originY: t.Y, lastX: t.X, lastY: t.Y}
		case t.X > mid && !a.look.active:
			a.look = contact{id: t.ID, active: true, lastX: t.X, lastY: t.Y}
		}
	}
}

// TouchMove updates tracked contacts.
func (a *Adapter) TouchMove(touches ...Touch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range touches {
		if a.joystick.active && t.ID == a.joystick.id {
			a.stick = clampStick(t.X-a.joystick.originX, t.Y-a.joystick.originY)
			a.joystick.lastX, a.joystick.lastY = t.X, t.Y
			if a.sink != nil {
				a.sink.SetJoystick(a.stick)
			}
		}
		if a.look.active && t.ID == a.look.id {
			d := core.Vec2{X: t.X - a.look.lastX, Y: t.Y - a.look.lastY}
			a.look.lastX, a.look.lastY = t.X, t.Y
			if a.sink != nil && !d.IsZero() {
				a.sink.AddLook(d)
			}
		}
	}
}

// TouchEnd releases contacts. Releasing the joystick resets it to (0, 0).
func (a *Adapter) TouchEnd(touches ...Touch) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range touches {
		if a.joystick.active && t.ID == a.joystick.id {
			a.joystick = contact{}
			a.stick = core.Vec2{}
			if a.sink != nil {
				a.sink.SetJoystick(a.stick)
			}
		}
		if a.look.active && t.ID == a.look.id {
			a.look = contact{}
		}
	}
}

// clampStick limits a displacement to MaxRadius and scales it to [-1, 1].
func clampStick(dx, dy float64) core.Vec2 {
	dist := math.Hypot(dx, dy)
	if dist > MaxRadius {
		dx, dy = dx/dist*MaxRadius, dy/dist*MaxRadius
	}
	return core.Vec2{X: dx / MaxRadius, Y: dy / MaxRadius}
}
