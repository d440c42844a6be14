// Package slideshow runs the guided tour: while active it steps through the
// populated frame slots on a fixed interval and eases the camera in front of
// the current one.
package slideshow

import (
	"math"
	"time"

	"github.com/watashi-museum/museum/pkg/core"
)

const (
	// Interval is how long the tour rests on each frame.
	Interval = 8 * time.Second
	// ViewDistance is how far in front of a frame the camera stops.
	ViewDistance = 3.5
	// Rate is the exponential approach rate, per second.
	Rate = 2.5
)

// Mode is the director's state.
type Mode int

const (
	Manual Mode = iota
	Slideshow
)

func (m Mode) String() string {
	if m == Slideshow {
		return "slideshow"
	}
	return "manual"
}

// Target is a frame the tour can visit.
type Target struct {
	ID       string
	Position core.Vec3
	// Yaw is the frame's rotation; its front faces (sin yaw, 0, cos yaw).
	Yaw float64
}

// ViewPoint returns where the camera stands to face t, and the yaw it needs.
func ViewPoint(t Target) (core.Vec3, float64) {
	normal := core.Vec3{X: math.Sin(t.Yaw), Z: math.Cos(t.Yaw)}
	return t.Position.Add(normal.Scale(ViewDistance)), t.Yaw
}

// Director is the Manual/Slideshow state machine. It is driven from the
// frame loop and is not safe for concurrent use.
type Director struct {
	mode    Mode
	index   int
	elapsed time.Duration
	targets []Target
}

// New returns a director in Manual mode.
func New() *Director {
	return &Director{index: -1}
}

func (d *Director) Mode() Mode { return d.mode }

// Active reports whether the tour is running.
func (d *Director) Active() bool { return d.mode == Slideshow }

// Index returns the current target index, or -1 in Manual mode.
func (d *Director) Index() int { return d.index }

// Current returns the target being visited.
func (d *Director) Current() (Target, bool) {
	if d.mode != Slideshow || d.index < 0 || d.index >= len(d.targets) {
		return Target{}, false
	}
	return d.targets[d.index], true
}

// Toggle switches between Manual and Slideshow. Entering Slideshow requires
// at least one target; with none the call is a no-op.
func (d *Director) Toggle(targets []Target) Mode {
	if d.mode == Slideshow {
		d.Cancel()
		return d.mode
	}
	if len(targets) == 0 {
		return d.mode
	}
	d.mode = Slideshow
	d.targets = append([]Target(nil), targets...)
	d.index = 0
	d.elapsed = 0
	return d.mode
}

// Cancel returns to Manual mode.
func (d *Director) Cancel() {
	d.mode = Manual
	d.index = -1
	d.elapsed = 0
	d.targets = nil
}

// SetTargets replaces the tour while it runs, keeping the current frame when
// it is still present. An empty list ends the tour.
func (d *Director) SetTargets(targets []Target) {
	if d.mode != Slideshow {
		return
	}
	if len(targets) == 0 {
		d.Cancel()
		return
	}
	cur, _ := d.Current()
	d.targets = append([]Target(nil), targets...)
	d.index = 0
	for i, t := range d.targets {
		if t.ID == cur.ID {
			d.index = i
			break
		}
	}
}

// Update advances the timer by dt and eases cam toward the current view
// point. The approach factor depends on dt, so convergence speed is the same
// at any frame rate.
func (d *Director) Update(cam *core.Camera, dt time.Duration) {
	if d.mode != Slideshow || len(d.targets) == 0 {
		return
	}

	d.elapsed += dt
	for d.elapsed >= Interval {
		d.elapsed -= Interval
		d.index = (d.index + 1) % len(d.targets)
	}

	pos, yaw := ViewPoint(d.targets[d.index])
	alpha := 1 - math.Exp(-Rate*dt.Seconds())

	cam.Position = cam.Position.Lerp(pos, alpha)
	cam.Rotation.Y = core.WrapAngle(cam.Rotation.Y + core.WrapAngle(yaw-cam.Rotation.Y)*alpha)
	cam.Rotation.X += (0 - cam.Rotation.X) * alpha
	cam.Rotation.Z += (0 - cam.Rotation.Z) * alpha
}
