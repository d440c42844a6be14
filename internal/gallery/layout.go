package gallery

import (
	"math"
	"strings"

	"github.com/watashi-museum/museum/internal/slideshow"
	"github.com/watashi-museum/museum/pkg/core"
)

// Room geometry, in room units.
const (
	RoomHalfSize = 10.0
	WallOffset   = 9.9
	SlotSpacing  = 4.0
	HangHeight   = 2.0
)

// Frame and image dimensions. The image plane sits ImageInset in front of
// the frame box.
var (
	FrameSize = core.Vec2{X: 2.2, Y: 1.7}
	ImageSize = core.Vec2{X: 2, Y: 1.5}
)

const (
	FrameDepth       = 0.1
	ImageInset       = 0.06
	PlaceholderColor = "#e0e0e0"
	ErrorColor       = "#880000"
)

var wallYaw = map[string]float64{
	"back":  0,
	"left":  math.Pi / 2,
	"right": -math.Pi / 2,
	"front": math.Pi,
}

// Slot is one fixed hanging position.
type Slot struct {
	ID       string
	Wall     string
	Index    int
	Position core.Vec3
	Yaw      float64
}

// Target returns the slot as a slideshow stop.
func (s Slot) Target() slideshow.Target {
	return slideshow.Target{ID: s.ID, Position: s.Position, Yaw: s.Yaw}
}

// Layout returns every slot, wall by wall: back, left, right, front, each
// centered along its wall.
func Layout() []Slot {
	start := -float64(core.SlotsPerWall-1) * SlotSpacing / 2
	slots := make([]Slot, 0, len(core.Walls)*core.SlotsPerWall)
	for _, wall := range core.Walls {
		for i := 0; i < core.SlotsPerWall; i++ {
			along := start + float64(i)*SlotSpacing
			var pos core.Vec3
			switch wall {
			case "back":
				pos = core.Vec3{X: along, Y: HangHeight, Z: -WallOffset}
			case "left":
				pos = core.Vec3{X: -WallOffset, Y: HangHeight, Z: along}
			case "right":
				pos = core.Vec3{X: WallOffset, Y: HangHeight, Z: along}
			case "front":
				pos = core.Vec3{X: along, Y: HangHeight, Z: WallOffset}
			}
			slots = append(slots, Slot{
				ID:       core.SlotID(wall, i),
				Wall:     wall,
				Index:    i,
				Position: pos,
				Yaw:      wallYaw[wall],
			})
		}
	}
	return slots
}

// ViewState is how a slot is drawn.
type ViewState int

const (
	// Placeholder is an empty slot: a plain plane in PlaceholderColor.
	Placeholder ViewState = iota
	// Image shows the record's picture.
	Image
	// Error marks a picture that cannot be shown.
	Error
)

func (v ViewState) String() string {
	switch v {
	case Image:
		return "image"
	case Error:
		return "error"
	default:
		return "placeholder"
	}
}

// SlotView is the render description of one slot.
type SlotView struct {
	Slot
	State     ViewState
	Record    core.FrameRecord
	Populated bool
	FrameSize core.Vec2
	ImageSize core.Vec2
}

// IsLocalBlobURL reports whether url points at a browser-local object URL,
// which does not outlive the session that created it.
func IsLocalBlobURL(url string) bool {
	return strings.HasPrefix(url, "blob:")
}

// ViewFor builds the view of slot from its record. images may be nil, in
// which case every remote URL is assumed to load.
func ViewFor(slot Slot, rec core.FrameRecord, populated bool, images ImageStatus) SlotView {
	v := SlotView{
		Slot:      slot,
		Record:    rec,
		Populated: populated,
		FrameSize: FrameSize,
		ImageSize: ImageSize,
	}
	if rec.IsRotated {
		v.FrameSize = core.Vec2{X: FrameSize.Y, Y: FrameSize.X}
		v.ImageSize = core.Vec2{X: ImageSize.Y, Y: ImageSize.X}
	}

	switch {
	case !populated || rec.ImageURL == "":
		v.State = Placeholder
	case IsLocalBlobURL(rec.ImageURL):
		v.State = Error
	case images != nil && images.Status(rec.ImageURL) == ImageFailed:
		v.State = Error
	default:
		v.State = Image
	}
	return v
}
