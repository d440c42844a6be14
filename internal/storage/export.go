package storage

import (
	"context"
	"encoding/json"
	"io"
)

// ExportFrames writes the frames of one space as indented JSON.
func ExportFrames(ctx context.Context, w io.Writer, frames FrameStore, spaceID string) error {
	m, err := frames.Frames(ctx, spaceID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}
