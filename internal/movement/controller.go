// Package movement turns keyboard, pointer and joystick input into
// per-frame first-person camera motion on the floor plane.
package movement

import (
	"math"
	"sync"

	"github.com/watashi-museum/museum/pkg/core"
)

const (
	// Speed is the displacement per frame at full input, in room units.
	Speed = 0.15
	// PointerSensitivity is the yaw change per pixel of pointer drag.
	PointerSensitivity = 0.002
	// TouchSensitivity is the yaw change per pixel of touch look.
	TouchSensitivity = 0.005
	// EyeHeight is the fixed camera height.
	EyeHeight = 2.0
	// DragThreshold is the per-axis jitter, in pixels, ignored while dragging.
	DragThreshold = 2.0
)

// Key codes understood by KeyDown and KeyUp.
const (
	KeyW          = "KeyW"
	KeyA          = "KeyA"
	KeyS          = "KeyS"
	KeyD          = "KeyD"
	KeyArrowUp    = "ArrowUp"
	KeyArrowDown  = "ArrowDown"
	KeyArrowLeft  = "ArrowLeft"
	KeyArrowRight = "ArrowRight"
)

// State is the controller's input state.
type State struct {
	Forward  bool
	Backward bool
	Left     bool
	Right    bool
	Joystick core.Vec2
	Look     core.Vec2
}

// Controller owns the movement state of one local viewer. Input methods may
// be called from any goroutine; Update is called once per frame.
type Controller struct {
	mu      sync.Mutex
	state   State
	enabled bool

	dragging   bool
	lastX      float64
	lastY      float64
	pointerYaw float64 // yaw change from pointer input not yet applied
}

// New returns an enabled controller with no input held.
func New() *Controller {
	return &Controller{enabled: true}
}

// SetEnabled turns input handling on or off. Disabling drops held keys,
// joystick and pending look so the camera stops immediately.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.state = State{}
		c.dragging = false
		c.pointerYaw = 0
	}
}

// Enabled reports whether input is being handled.
func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

// State returns a copy of the current input state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// KeyDown records a pressed direction key. Unknown codes are ignored.
func (c *Controller) KeyDown(code string) { c.setKey(code, true) }

// KeyUp records a released direction key.
func (c *Controller) KeyUp(code string) { c.setKey(code, false) }

func (c *Controller) setKey(code string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled && down {
		return
	}
	switch code {
	case KeyW, KeyArrowUp:
		c.state.Forward = down
	case KeyS, KeyArrowDown:
		c.state.Backward = down
	case KeyA, KeyArrowLeft:
		c.state.Left = down
	case KeyD, KeyArrowRight:
		c.state.Right = down
	}
}

// PointerDown starts a drag at (x, y).
func (c *Controller) PointerDown(x, y float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.dragging = true
	c.lastX, c.lastY = x, y
}

// PointerMove handles a pointer sample. While dragging, samples that moved
// less than DragThreshold on both axes since the last accepted one are
// dropped. When locked is true the pointer is captured and movementX is used
// directly, with no drag required.
func (c *Controller) PointerMove(x, y, movementX float64, locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	if locked {
		c.pointerYaw -= movementX * PointerSensitivity
		return
	}
	if !c.dragging {
		return
	}
	dx, dy := x-c.lastX, y-c.lastY
	if math.Abs(dx) < DragThreshold && math.Abs(dy) < DragThreshold {
		return
	}
	c.pointerYaw -= dx * PointerSensitivity
	c.lastX, c.lastY = x, y
}

// PointerUp ends a drag.
func (c *Controller) PointerUp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dragging = false
}

// SetJoystick sets the analog move vector, each axis in [-1, 1].
// Y is positive toward the viewer (backward).
func (c *Controller) SetJoystick(v core.Vec2) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.state.Joystick = v
}

// AddLook accumulates a touch look delta in pixels.
func (c *Controller) AddLook(d core.Vec2) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.state.Look = c.state.Look.Add(d)
}

// TakeLook returns the accumulated touch look delta and resets it.
func (c *Controller) TakeLook() core.Vec2 {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.state.Look
	c.state.Look = core.Vec2{}
	return d
}

// Local returns the camera-local move vector before normalization:
// X is strafe (right positive), Z is forward-back (back positive).
func (s State) Local() core.Vec3 {
	var v core.Vec3
	if s.Right {
		v.X++
	}
	if s.Left {
		v.X--
	}
	if s.Backward {
		v.Z++
	}
	if s.Forward {
		v.Z--
	}
	v.X += s.Joystick.X
	v.Z += s.Joystick.Y
	return v
}

// Direction returns the unit world-space move direction for a camera at yaw.
// Only yaw is applied, so the result always lies on the floor plane.
func (s State) Direction(yaw float64) core.Vec3 {
	l := s.Local().Normalize()
	sin, cos := math.Sincos(yaw)
	return core.Vec3{
		X: l.X*cos + l.Z*sin,
		Z: -l.X*sin + l.Z*cos,
	}
}

// Update applies one frame of input to cam. Pitch is left untouched.
func (c *Controller) Update(cam *core.Camera) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		cam.Position.Y = EyeHeight
		return
	}

	cam.Rotation.Y += c.pointerYaw
	c.pointerYaw = 0

	look := c.state.Look
	c.state.Look = core.Vec2{}
	cam.Rotation.Y -= look.X * TouchSensitivity
	cam.Rotation.Y = core.WrapAngle(cam.Rotation.Y)

	dir := c.state.Direction(cam.Rotation.Y)
	cam.Position = cam.Position.Add(dir.Scale(Speed))
	cam.Position.Y = EyeHeight
}
