// Package gallery composes the room: it owns the camera, lays out the frame
// slots, places other visitors and drives one frame of the render loop.
package gallery

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/watashi-museum/museum/internal/movement"
	"github.com/watashi-museum/museum/internal/presence"
	"github.com/watashi-museum/museum/internal/slideshow"
	"github.com/watashi-museum/museum/pkg/core"
)

var (
	// ErrNotEditMode is returned when the editor is opened outside edit mode.
	ErrNotEditMode = errors.New("space is not in edit mode")
	// ErrUnknownSlot is returned for slot ids outside the layout.
	ErrUnknownSlot = errors.New("unknown slot")
)

// Actor is another visitor as placed in the room.
type Actor struct {
	ID       string
	Label    string
	Position core.Vec3
	Yaw      float64
}

// VisitorLabel is the name tag shown above a visitor: the first four
// characters of its id.
func VisitorLabel(id string) string {
	short := []rune(id)
	if len(short) > 4 {
		short = short[:4]
	}
	return "Visitor " + string(short)
}

// Dependencies holds the composer's collaborators. Controller and Director
// are required; the rest may be nil.
type Dependencies struct {
	Controller *movement.Controller
	Director   *slideshow.Director
	Presence   *presence.Client
	Images     ImageStatus
	Logger     *slog.Logger
}

type frameSet struct {
	version uint64
	frames  map[string]core.FrameRecord
}

// Composer is the scene of one space. Frame and the accessors are called
// from the render loop; SetFrames may be called from any goroutine.
type Composer struct {
	deps     Dependencies
	slots    []Slot
	editMode bool

	camera  core.Camera
	elapsed time.Duration
	frames  atomic.Pointer[frameSet]
	seen    uint64 // frame set version last handed to the director
	editing string
	panics  int
}

// New creates a composer with the camera at its entry pose.
func New(deps Dependencies, editMode bool) *Composer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	c := &Composer{
		deps:     deps,
		slots:    Layout(),
		editMode: editMode,
		camera:   core.NewCamera(),
	}
	c.frames.Store(&frameSet{frames: map[string]core.FrameRecord{}})
	return c
}

// SetFrames replaces the frame map.
func (c *Composer) SetFrames(frames map[string]core.FrameRecord) {
	if frames == nil {
		frames = map[string]core.FrameRecord{}
	}
	for {
		old := c.frames.Load()
		next := &frameSet{version: old.version + 1, frames: frames}
		if c.frames.CompareAndSwap(old, next) {
			return
		}
	}
}

// Frames returns the current frame map. Callers must not modify it.
func (c *Composer) Frames() map[string]core.FrameRecord {
	return c.frames.Load().frames
}

// Frame advances the scene by dt. A panic inside the frame is logged and
// swallowed so the loop keeps rendering.
func (c *Composer) Frame(dt time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			c.panics++
			c.deps.Logger.Error("Recovered panic in frame", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()

	c.elapsed += dt

	if set := c.frames.Load(); set.version != c.seen {
		c.seen = set.version
		c.deps.Director.SetTargets(c.Targets())
		c.syncControl()
	}

	if c.deps.Director.Active() {
		c.deps.Director.Update(&c.camera, dt)
	} else {
		c.deps.Controller.Update(&c.camera)
	}

	if c.deps.Presence != nil {
		c.deps.Presence.Tick(c.elapsed, c.camera)
	}
}

// Camera returns the local camera.
func (c *Composer) Camera() core.Camera { return c.camera }

// Elapsed returns the time since the loop started.
func (c *Composer) Elapsed() time.Duration { return c.elapsed }

// EditMode reports whether the space was opened for curating.
func (c *Composer) EditMode() bool { return c.editMode }

// Slots returns the view of every slot in layout order.
func (c *Composer) Slots() []SlotView {
	frames := c.Frames()
	out := make([]SlotView, len(c.slots))
	for i, s := range c.slots {
		rec, ok := frames[s.ID]
		out[i] = ViewFor(s, rec, ok, c.deps.Images)
	}
	return out
}

// Targets returns the populated slots as slideshow stops, in layout order.
func (c *Composer) Targets() []slideshow.Target {
	frames := c.Frames()
	var out []slideshow.Target
	for _, s := range c.slots {
		if _, ok := frames[s.ID]; ok {
			out = append(out, s.Target())
		}
	}
	return out
}

// Actors returns the other visible visitors.
func (c *Composer) Actors() []Actor {
	if c.deps.Presence == nil {
		return nil
	}
	others := c.deps.Presence.Others()
	out := make([]Actor, len(others))
	for i, p := range others {
		out[i] = Actor{
			ID:       p.ID,
			Label:    VisitorLabel(p.ID),
			Position: core.Vec3FromArray(p.Position),
			Yaw:      p.Orientation[1],
		}
	}
	return out
}

// VisitorCount is the number of visitors in the space, the local one included.
func (c *Composer) VisitorCount() int {
	if c.deps.Presence == nil {
		return 1
	}
	return c.deps.Presence.VisitorCount()
}

// Mode returns the slideshow mode.
func (c *Composer) Mode() slideshow.Mode { return c.deps.Director.Mode() }

// ToggleSlideshow starts or stops the tour. Starting needs at least one
// populated slot and is refused while the editor is open.
func (c *Composer) ToggleSlideshow() slideshow.Mode {
	if c.editing != "" {
		return c.deps.Director.Mode()
	}
	mode := c.deps.Director.Toggle(c.Targets())
	c.syncControl()
	return mode
}

// CancelSlideshow stops the tour.
func (c *Composer) CancelSlideshow() {
	c.deps.Director.Cancel()
	c.syncControl()
}

// OpenEditor selects a slot for editing. Movement stops while it is open.
func (c *Composer) OpenEditor(slotID string) error {
	if !c.editMode {
		return ErrNotEditMode
	}
	if !core.ValidSlotID(slotID) {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	c.deps.Director.Cancel()
	c.editing = slotID
	c.syncControl()
	return nil
}

// CloseEditor returns control to the visitor.
func (c *Composer) CloseEditor() {
	c.editing = ""
	c.syncControl()
}

// Editing returns the slot open in the editor.
func (c *Composer) Editing() (string, bool) {
	return c.editing, c.editing != ""
}

// facingCos is the minimum cosine between the view direction and a slot for
// the slot to count as in view.
const facingCos = 0.8

// NearestSlot returns the slot closest to the camera that it is facing,
// within maxDistance.
func (c *Composer) NearestSlot(maxDistance float64) (Slot, bool) {
	fwd := c.camera.Forward()
	best, bestDist := Slot{}, maxDistance
	found := false
	for _, s := range c.slots {
		d := s.Position.Sub(c.camera.Position)
		d.Y = 0
		dist := d.Length()
		if dist > bestDist || dist == 0 {
			continue
		}
		if (d.X*fwd.X+d.Z*fwd.Z)/dist < facingCos {
			continue
		}
		best, bestDist, found = s, dist, true
	}
	return best, found
}

func (c *Composer) syncControl() {
	c.deps.Controller.SetEnabled(!c.deps.Director.Active() && c.editing == "")
}
