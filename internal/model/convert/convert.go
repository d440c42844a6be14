package convert

import (
	"encoding/json"

	"github.com/watashi-museum/museum/internal/geo"
	"github.com/watashi-museum/museum/internal/model"
	"github.com/watashi-museum/museum/pkg/core"
)

// PoseToCore converts a GORM Pose to a core.ViewerPose.
// A malformed orientation column reads as zero rotation.
func PoseToCore(p model.Pose) core.ViewerPose {
	var orientation [3]float64
	if len(p.Orientation) > 0 {
		_ = json.Unmarshal(p.Orientation, &orientation)
	}

	return core.ViewerPose{
		ID:          p.SessionID,
		Position:    geo.Vec3FromPoint(p.Position).Array(),
		Orientation: orientation,
		LastSeen:    p.LastSeen,
	}
}

// FrameToCore converts a GORM Frame to a core.FrameRecord.
func FrameToCore(f model.Frame) core.FrameRecord {
	return core.FrameRecord{
		Title:       f.Title,
		Description: f.Description,
		ImageURL:    f.ImageURL,
		IsRotated:   f.IsRotated,
		UpdatedAt:   f.UpdatedAt,
	}
}
