package core

import "time"

// StalenessWindow is how long a pose stays visible after its last write.
const StalenessWindow = 10 * time.Second

// ViewerPose is the shared record of one viewer's position in a space.
// LastSeen is assigned by the store on every write, never by the client.
type ViewerPose struct {
	ID          string     `json:"id"`
	Position    [3]float64 `json:"position"`
	Orientation [3]float64 `json:"orientation"`
	LastSeen    time.Time  `json:"lastSeen"`
}

// PoseFromCamera captures the camera's pose under a session id.
func PoseFromCamera(id string, cam Camera) ViewerPose {
	return ViewerPose{
		ID:          id,
		Position:    cam.Position.Array(),
		Orientation: cam.Rotation.Array(),
	}
}

// Fresh reports whether the pose was written within window of now.
func (p ViewerPose) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastSeen) < window
}
