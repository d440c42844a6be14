// Package blob stores uploaded frame pictures and hands out their URLs.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidName is returned for keys that are empty or escape their folder.
var ErrInvalidName = errors.New("invalid blob name")

// Store accepts a picture keyed by space, slot and filename and returns a
// URL it can be fetched from.
type Store interface {
	Put(ctx context.Context, spaceID, slotID, filename string, r io.Reader) (string, error)
}

// Key returns the slash-separated object key of a picture.
func Key(spaceID, slotID, filename string) (string, error) {
	parts := []string{spaceID, slotID, filename}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidName, p)
		}
	}
	return path.Join("museums", spaceID, slotID, filename), nil
}

// FS stores pictures under a directory served at baseURL.
type FS struct {
	dir     string
	baseURL string
}

// NewFS creates a filesystem store. baseURL is the public prefix the
// directory is served under, e.g. "https://host/blobs".
func NewFS(dir, baseURL string) *FS {
	return &FS{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir returns the root directory.
func (s *FS) Dir() string { return s.dir }

// Put writes the picture, replacing any earlier one under the same key.
func (s *FS) Put(ctx context.Context, spaceID, slotID, filename string, r io.Reader) (string, error) {
	key, err := Key(spaceID, slotID, filename)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create blob file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return "", fmt.Errorf("failed to store blob: %w", err)
	}
	return s.baseURL + "/" + escapeKey(key), nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// Memory keeps pictures in memory. URLs use the mem:// scheme.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(ctx context.Context, spaceID, slotID, filename string, r io.Reader) (string, error) {
	key, err := Key(spaceID, slotID, filename)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", fmt.Errorf("failed to read blob: %w", err)
	}
	m.mu.Lock()
	m.objects[key] = buf.Bytes()
	m.mu.Unlock()
	return "mem://" + key, nil
}

// Get returns a stored picture by the URL Put returned.
func (m *Memory) Get(u string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.objects[strings.TrimPrefix(u, "mem://")]
	return b, ok
}
