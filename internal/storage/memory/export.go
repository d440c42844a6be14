// internal/storage/memory/export.go
package memory

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/watashi-museum/museum/pkg/core"
)

// SnapshotVersion is written into every snapshot file.
const SnapshotVersion = 1

// Snapshot is the root JSON structure of a frame snapshot file.
type Snapshot struct {
	Version int                                    `json:"version"`
	Spaces  map[string]map[string]core.FrameRecord `json:"spaces"`
}

// SnapshotPath returns the file the backend reads and writes.
func (b *Backend) SnapshotPath() string {
	name := "frames.json"
	if b.cfg.CompressOutput {
		name += ".gz"
	}
	return filepath.Join(b.cfg.OutputDir, name)
}

// writeSnapshot writes all frames to the snapshot file. Caller holds b.mu.
func (b *Backend) writeSnapshot() error {
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	snap := Snapshot{Version: SnapshotVersion, Spaces: b.frames}

	path := b.SnapshotPath()
	tmp := path + ".tmp"
	if b.cfg.CompressOutput {
		if err := writeGzipJSON(tmp, snap); err != nil {
			return err
		}
	} else {
		if err := writeJSON(tmp, snap); err != nil {
			return err
		}
	}
	return os.Rename(tmp, path)
}

func (b *Backend) readSnapshot() (map[string]map[string]core.FrameRecord, error) {
	f, err := os.Open(b.SnapshotPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if b.cfg.CompressOutput {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip snapshot: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap.Spaces, nil
}

func writeJSON(path string, data Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data Snapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	defer gzWriter.Close()

	encoder := json.NewEncoder(gzWriter)
	return encoder.Encode(data)
}
