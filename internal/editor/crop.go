package editor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// JPEGQuality is used when re-encoding cropped pictures.
const JPEGQuality = 90

// ErrEmptyCrop is returned when the crop rectangle misses the picture.
var ErrEmptyCrop = errors.New("crop rectangle is outside the image")

// Crop decodes a picture, cuts rect out of it (a zero rect keeps the whole
// picture), scales it down so its longest edge is at most maxEdge (0 keeps
// the size) and re-encodes it. PNG and GIF sources come back as PNG, all
// others as JPEG. filename is rewritten to the output extension.
func Crop(data []byte, filename string, rect image.Rectangle, maxEdge int) ([]byte, string, error) {
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	if !rect.Empty() {
		bounds = rect.Add(src.Bounds().Min).Intersect(src.Bounds())
		if bounds.Empty() {
			return nil, "", ErrEmptyCrop
		}
	}

	w, h := bounds.Dx(), bounds.Dy()
	if maxEdge > 0 && (w > maxEdge || h > maxEdge) {
		if w >= h {
			h = max(1, h*maxEdge/w)
			w = maxEdge
		} else {
			w = max(1, w*maxEdge/h)
			h = maxEdge
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	}

	var out bytes.Buffer
	ext := ".jpg"
	switch format {
	case "png", "gif":
		ext = ".png"
		err = png.Encode(&out, dst)
	default:
		err = jpeg.Encode(&out, dst, &jpeg.Options{Quality: JPEGQuality})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode image: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "image"
	}
	return out.Bytes(), base + ext, nil
}
