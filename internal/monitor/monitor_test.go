package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watashi-museum/museum/internal/cache"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/storage/memory"
	"github.com/watashi-museum/museum/pkg/core"
)

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeConns int

func (f fakeConns) Count() int { return int(f) }

type recordingWriter struct {
	mu     sync.Mutex
	counts []map[string]int
	err    error
}

func (w *recordingWriter) WritePresence(ctx context.Context, counts map[string]int, connections int, t time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.counts = append(w.counts, counts)
	return w.err
}

func (w *recordingWriter) calls() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.counts)
}

func TestTick_PrunesAndCounts(t *testing.T) {
	now := t0.Add(-time.Hour)
	store := memory.New(config.MemoryConfig{}, memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	require.NoError(t, store.PutPose(ctx, "alice", core.ViewerPose{ID: "gone"}))
	now = t0.Add(-2 * time.Second)
	require.NoError(t, store.PutPose(ctx, "alice", core.ViewerPose{ID: "here"}))

	visitors := cache.NewVisitorCache()
	visitors.Touch("alice", "gone", t0.Add(-time.Hour))
	visitors.Touch("alice", "here", t0.Add(-2*time.Second))

	metrics := &recordingWriter{}
	statusFile := filepath.Join(t.TempDir(), "status.json")
	s := NewService(Dependencies{
		Store:      store,
		Visitors:   visitors,
		Conns:      fakeConns(3),
		Metrics:    metrics,
		Now:        func() time.Time { return t0 },
		PruneAfter: 10 * time.Minute,
		StatusFile: statusFile,
	})

	status := s.Tick(ctx)
	assert.Equal(t, 3, status.Connections)
	assert.Equal(t, map[string]int{"alice": 1}, status.Visitors)
	assert.Equal(t, 1, status.Pruned)

	poses, err := store.Poses(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, poses, 1)
	assert.Equal(t, "here", poses[0].ID)

	_, ok := visitors.LastSeen("alice", "gone")
	assert.False(t, ok)

	require.Equal(t, 1, metrics.calls())

	data, err := os.ReadFile(statusFile)
	require.NoError(t, err)
	var onDisk Status
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, 3, onDisk.Connections)
	assert.Equal(t, 1, onDisk.Visitors["alice"])
}

func TestTick_MetricsErrorIsLogged(t *testing.T) {
	s := NewService(Dependencies{
		Metrics: &recordingWriter{err: errors.New("influx down")},
		Now:     func() time.Time { return t0 },
	})
	status := s.Tick(context.Background())
	assert.Empty(t, status.Visitors)
}

func TestStartStop(t *testing.T) {
	metrics := &recordingWriter{}
	s := NewService(Dependencies{Metrics: metrics, Interval: 5 * time.Millisecond})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return metrics.calls() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()
}
