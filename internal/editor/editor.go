// Package editor validates and saves a curator's changes to a frame slot.
package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/watashi-museum/museum/internal/blob"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

var (
	// ErrNotConfigured is returned when no shared backend is set up.
	ErrNotConfigured = errors.New("saving is unavailable: the museum backend is not configured")
	// ErrMissingTitle is returned when the title is blank.
	ErrMissingTitle = errors.New("a title is required")
	// ErrMissingImage is returned when neither an upload nor an existing picture is given.
	ErrMissingImage = errors.New("a picture is required")
	// ErrSaveFailed wraps unexpected failures while uploading or writing.
	ErrSaveFailed = errors.New("failed to save changes")
)

// Upload is a new picture picked by the curator.
type Upload struct {
	Filename string
	Data     []byte
	// Crop selects part of the picture; the zero rectangle keeps all of it.
	Crop image.Rectangle
	// MaxEdge caps the longest edge in pixels; 0 keeps the size.
	MaxEdge int
}

// Request is one save of the frame form.
type Request struct {
	SlotID      string
	Title       string
	Description string
	// ImageURL is the picture already on the frame, kept when Upload is nil.
	ImageURL  string
	Upload    *Upload
	IsRotated bool
}

// Editor saves frame edits for one space.
type Editor struct {
	spaceID    string
	frames     storage.FrameStore
	blobs      blob.Store
	configured bool
	logger     *slog.Logger
}

// New creates an editor. When configured is false every save fails with
// ErrNotConfigured.
func New(spaceID string, frames storage.FrameStore, blobs blob.Store, configured bool, logger *slog.Logger) *Editor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Editor{
		spaceID:    spaceID,
		frames:     frames,
		blobs:      blobs,
		configured: configured && frames != nil && blobs != nil,
		logger:     logger,
	}
}

// Validate checks a request without touching the backend.
func Validate(req Request) error {
	if strings.TrimSpace(req.Title) == "" {
		return ErrMissingTitle
	}
	if req.Upload == nil && strings.TrimSpace(req.ImageURL) == "" {
		return ErrMissingImage
	}
	if req.Upload != nil && len(req.Upload.Data) == 0 {
		return ErrMissingImage
	}
	return nil
}

// Save uploads the new picture, if any, and merges the record into the slot.
// Validation errors and ErrNotConfigured are returned as is; anything else
// is wrapped in ErrSaveFailed. Nothing is written when validation fails.
func (e *Editor) Save(ctx context.Context, req Request) (core.FrameRecord, error) {
	if !e.configured {
		return core.FrameRecord{}, ErrNotConfigured
	}
	if err := Validate(req); err != nil {
		return core.FrameRecord{}, err
	}
	if err := storage.ValidateFrame(e.spaceID, req.SlotID); err != nil {
		return core.FrameRecord{}, err
	}

	imageURL := req.ImageURL
	if req.Upload != nil {
		u, err := e.upload(ctx, req.SlotID, req.Upload)
		if err != nil {
			e.logger.Error("Error saving frame", "space", e.spaceID, "slot", req.SlotID, "error", err)
			return core.FrameRecord{}, fmt.Errorf("%w: %v", ErrSaveFailed, err)
		}
		imageURL = u
	}

	rec := core.FrameRecord{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		ImageURL:    imageURL,
		IsRotated:   req.IsRotated,
	}
	if err := e.frames.PutFrame(ctx, e.spaceID, req.SlotID, rec); err != nil {
		e.logger.Error("Error saving frame", "space", e.spaceID, "slot", req.SlotID, "error", err)
		return core.FrameRecord{}, fmt.Errorf("%w: %v", ErrSaveFailed, err)
	}

	e.logger.Info("Frame saved", "space", e.spaceID, "slot", req.SlotID)
	return rec, nil
}

func (e *Editor) upload(ctx context.Context, slotID string, up *Upload) (string, error) {
	data, name := up.Data, filepath.Base(up.Filename)
	if !up.Crop.Empty() || up.MaxEdge > 0 {
		var err error
		data, name, err = Crop(up.Data, up.Filename, up.Crop, up.MaxEdge)
		if err != nil {
			return "", err
		}
	}
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "image"
	}
	return e.blobs.Put(ctx, e.spaceID, slotID, name, bytes.NewReader(data))
}
