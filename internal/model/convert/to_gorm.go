// Package convert maps between GORM models and core types.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/watashi-museum/museum/internal/geo"
	"github.com/watashi-museum/museum/internal/model"
	"github.com/watashi-museum/museum/pkg/core"
	"gorm.io/datatypes"
)

// orientationToJSON converts Euler angles to datatypes.JSON for DB storage.
func orientationToJSON(o [3]float64) datatypes.JSON {
	data, _ := json.Marshal(o)
	return datatypes.JSON(data)
}

// CoreToPose converts a core.ViewerPose to a GORM model.Pose.
// core.ViewerPose.ID maps to GORM Pose.SessionID.
func CoreToPose(spaceID string, p core.ViewerPose) (model.Pose, error) {
	position, err := geo.PointFromVec3(core.Vec3FromArray(p.Position))
	if err != nil {
		return model.Pose{}, fmt.Errorf("pose %s: %w", p.ID, err)
	}
	return model.Pose{
		SpaceID:     spaceID,
		SessionID:   p.ID,
		Position:    position,
		Orientation: orientationToJSON(p.Orientation),
		LastSeen:    p.LastSeen,
	}, nil
}

// CoreToFrame converts a core.FrameRecord to a GORM model.Frame.
func CoreToFrame(spaceID, slotID string, f core.FrameRecord) model.Frame {
	return model.Frame{
		SpaceID:     spaceID,
		SlotID:      slotID,
		Title:       f.Title,
		Description: f.Description,
		ImageURL:    f.ImageURL,
		IsRotated:   f.IsRotated,
		UpdatedAt:   f.UpdatedAt,
	}
}
