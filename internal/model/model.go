package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&Pose{},
	&Frame{},
}

// Pose is the last published viewer pose of one session in one space.
type Pose struct {
	SpaceID   string `json:"spaceId" gorm:"primaryKey;size:128"`
	SessionID string `json:"sessionId" gorm:"primaryKey;size:64"`

	// Position is XYZ in room space.
	Position geom.Point `json:"position"`

	// Orientation is the Euler XYZ rotation in radians as a JSON array.
	Orientation datatypes.JSON `json:"orientation"`

	// LastSeen is the store time of the last write.
	LastSeen time.Time `json:"lastSeen" gorm:"NOT NULL;index:idx_pose_last_seen"`
}

func (*Pose) TableName() string {
	return "poses"
}

// Frame is the content hung in one wall slot of a space.
type Frame struct {
	SpaceID     string    `json:"spaceId" gorm:"primaryKey;size:128"`
	SlotID      string    `json:"slotId" gorm:"primaryKey;size:32"`
	Title       string    `json:"title" gorm:"size:255"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl" gorm:"size:2048"`
	IsRotated   bool      `json:"isRotated"`
	UpdatedAt   time.Time `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (*Frame) TableName() string {
	return "frames"
}
