package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/editor"
	"github.com/watashi-museum/museum/pkg/core"
)

// runFrame handles "frame <subcommand>".
func runFrame(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] != "set" {
		return errors.New("usage: museum frame set -space id -slot id -title t [-desc d] [-image path] [-crop x0,y0,x1,y1] [-max-edge px] [-rotated]")
	}
	return runFrameSet(ctx, args[1:], out)
}

// runFrameSet saves one frame through the editor. Without -image the
// picture already on the frame is kept.
func runFrameSet(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("frame set", flag.ContinueOnError)
	spaceID := fs.String("space", "", "space id")
	slotID := fs.String("slot", "", "frame slot, e.g. frame-back-2")
	title := fs.String("title", "", "frame title")
	desc := fs.String("desc", "", "frame description")
	imagePath := fs.String("image", "", "picture file to upload")
	crop := fs.String("crop", "", "crop rectangle x0,y0,x1,y1 in pixels")
	maxEdge := fs.Int("max-edge", 0, "scale the picture down to this longest edge")
	rotated := fs.Bool("rotated", false, "hang the frame in portrait")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *spaceID == "" || *slotID == "" {
		return errors.New("-space and -slot are required")
	}
	if !core.ValidSlotID(*slotID) {
		return fmt.Errorf("unknown frame slot %q", *slotID)
	}
	Session.SetSpace(*spaceID)

	req := editor.Request{
		SlotID:      *slotID,
		Title:       *title,
		Description: *desc,
		IsRotated:   *rotated,
	}
	if *imagePath != "" {
		rect, err := parseCrop(*crop)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(*imagePath)
		if err != nil {
			return err
		}
		req.Upload = &editor.Upload{
			Filename: filepath.Base(*imagePath),
			Data:     data,
			Crop:     rect,
			MaxEdge:  *maxEdge,
		}
	}
	if strings.TrimSpace(req.Title) == "" {
		return editor.ErrMissingTitle
	}

	configured := config.BackendConfigured()
	if !configured {
		return editor.ErrNotConfigured
	}
	r, err := dialRemote(Session.SessionID())
	if err != nil {
		return err
	}
	defer r.Close()

	if req.Upload == nil {
		frames, err := r.client.Frames(ctx, *spaceID)
		if err != nil {
			return err
		}
		req.ImageURL = frames[*slotID].ImageURL
	}

	rec, err := editor.New(*spaceID, r.stream, r.client.Blobs(), configured, Logger).Save(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s/%s: %q %s\n", *spaceID, *slotID, rec.Title, rec.ImageURL)
	return err
}

// parseCrop reads "x0,y0,x1,y1". An empty string is the zero rectangle.
func parseCrop(s string) (image.Rectangle, error) {
	if s == "" {
		return image.Rectangle{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("crop %q: want x0,y0,x1,y1", s)
	}
	var n [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("crop %q: %w", s, err)
		}
		n[i] = v
	}
	rect := image.Rect(n[0], n[1], n[2], n[3])
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("crop %q is empty", s)
	}
	return rect, nil
}
