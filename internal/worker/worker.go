package worker

import (
	"errors"
	"log/slog"
	"time"

	"github.com/watashi-museum/museum/internal/cache"
	"github.com/watashi-museum/museum/internal/storage"
)

var (
	// ErrNotCurator is returned for frame writes by callers who may not
	// curate the space.
	ErrNotCurator = errors.New("not a curator of this space")
	// ErrSessionMismatch is returned for pose writes whose id is not the
	// session the connection was opened with.
	ErrSessionMismatch = errors.New("pose id does not match connection session")
)

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Visitors *cache.VisitorCache
	Logger   *slog.Logger
	Now      func() time.Time

	// WriteTimeout bounds each store call.
	WriteTimeout time.Duration
}

// Manager applies viewer writes to the store.
type Manager struct {
	deps    Dependencies
	backend storage.Backend
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.Visitors == nil {
		deps.Visitors = cache.NewVisitorCache()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.WriteTimeout <= 0 {
		deps.WriteTimeout = 5 * time.Second
	}
	return &Manager{
		deps:    deps,
		backend: backend,
	}
}

// Visitors returns the cache of pose writers.
func (m *Manager) Visitors() *cache.VisitorCache {
	return m.deps.Visitors
}
