package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Walls in slot order.
var Walls = []string{"back", "left", "right", "front"}

// SlotsPerWall is the number of frame slots hung on each wall.
const SlotsPerWall = 5

// FrameRecord is the curated content of one slot.
type FrameRecord struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl"`
	IsRotated   bool      `json:"isRotated"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SlotID returns the deterministic id of slot index on wall.
func SlotID(wall string, index int) string {
	return fmt.Sprintf("frame-%s-%d", wall, index)
}

// ParseSlotID splits a slot id into wall and index.
func ParseSlotID(id string) (wall string, index int, err error) {
	rest, ok := strings.CutPrefix(id, "frame-")
	if !ok {
		return "", 0, fmt.Errorf("invalid slot id %q", id)
	}
	i := strings.LastIndexByte(rest, '-')
	if i <= 0 {
		return "", 0, fmt.Errorf("invalid slot id %q", id)
	}
	wall = rest[:i]
	index, err = strconv.Atoi(rest[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid slot index in %q: %w", id, err)
	}
	if !knownWall(wall) || index < 0 || index >= SlotsPerWall {
		return "", 0, fmt.Errorf("unknown slot %q", id)
	}
	return wall, index, nil
}

// ValidSlotID reports whether id names one of the fixed slots.
func ValidSlotID(id string) bool {
	_, _, err := ParseSlotID(id)
	return err == nil
}

func knownWall(w string) bool {
	for _, k := range Walls {
		if k == w {
			return true
		}
	}
	return false
}
