package streaming

import (
	"encoding/json"

	"github.com/watashi-museum/museum/pkg/core"
)

// Message type constants of the space streaming protocol.
const (
	TypePutPose       = "put_pose"
	TypePutFrame      = "put_frame"
	TypeWatchPoses    = "watch_poses"
	TypeWatchFrames   = "watch_frames"
	TypeUnwatch       = "unwatch"
	TypePoseSnapshot  = "pose_snapshot"
	TypeFrameSnapshot = "frame_snapshot"
	TypeAck           = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`    // request id, echoed by the ack
	Space   string          `json:"space,omitempty"` // space the message is scoped to
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type  string `json:"type"` // always "ack"
	For   string `json:"for"`  // request id being acknowledged
	Error string `json:"error,omitempty"`
}

// PutFramePayload carries one slot write.
type PutFramePayload struct {
	Slot  string           `json:"slot"`
	Frame core.FrameRecord `json:"frame"`
}

// UnwatchPayload names the stream being cancelled.
type UnwatchPayload struct {
	Stream string `json:"stream"` // TypeWatchPoses or TypeWatchFrames
}

// PoseSnapshotPayload is pushed on every change to a watched space's poses.
type PoseSnapshotPayload struct {
	Poses []core.ViewerPose `json:"poses"`
}

// FrameSnapshotPayload is pushed on every change to a watched space's frames.
type FrameSnapshotPayload struct {
	Frames map[string]core.FrameRecord `json:"frames"`
}

// Marshal builds an envelope with a JSON-encoded payload.
func Marshal(msgType, id, space string, payload any) ([]byte, error) {
	env := Envelope{Type: msgType, ID: id, Space: space}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}
