package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/watashi-museum/museum/internal/cache"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

// PresenceWriter receives the visitor counts of every tick.
type PresenceWriter interface {
	WritePresence(ctx context.Context, counts map[string]int, connections int, t time.Time) error
}

// ConnCounter reports the number of open stream connections.
type ConnCounter interface {
	Count() int
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Store    storage.PoseStore
	Visitors *cache.VisitorCache
	Conns    ConnCounter    // optional
	Metrics  PresenceWriter // optional
	Logger   *slog.Logger
	Now      func() time.Time

	Interval   time.Duration
	PruneAfter time.Duration
	StatusFile string
}

// Status is a snapshot of service presence.
type Status struct {
	Time        time.Time      `json:"time"`
	Connections int            `json:"connections"`
	Visitors    map[string]int `json:"visitors"`
	Pruned      int            `json:"pruned"`
}

// Service prunes stale poses and reports presence on an interval.
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Visitors == nil {
		deps.Visitors = cache.NewVisitorCache()
	}
	if deps.Interval <= 0 {
		deps.Interval = 15 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Tick runs one monitor cycle: prune, count, report.
func (s *Service) Tick(ctx context.Context) Status {
	now := s.deps.Now()
	logger := s.deps.Logger

	status := Status{
		Time:     now.UTC(),
		Visitors: s.deps.Visitors.Counts(now, core.StalenessWindow),
	}
	if s.deps.Conns != nil {
		status.Connections = s.deps.Conns.Count()
	}

	if s.deps.PruneAfter > 0 {
		cutoff := now.Add(-s.deps.PruneAfter)
		s.deps.Visitors.Forget(cutoff)
		if s.deps.Store != nil {
			n, err := s.deps.Store.PrunePoses(ctx, cutoff)
			if err != nil {
				logger.Error("Error pruning poses", "error", err)
			} else if n > 0 {
				logger.Debug("Pruned stale poses", "count", n)
			}
			status.Pruned = n
		}
	}

	if s.deps.StatusFile != "" {
		if err := writeStatusFile(s.deps.StatusFile, status); err != nil {
			logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Metrics != nil {
		if err := s.deps.Metrics.WritePresence(ctx, status.Visitors, status.Connections, now); err != nil {
			logger.Error("Error writing presence metrics", "error", err)
		}
	}

	return status
}

func writeStatusFile(path string, status Status) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.doneChan
	s.mu.Unlock()
	<-done
}
