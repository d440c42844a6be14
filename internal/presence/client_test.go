package presence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/internal/storage/memory"
	"github.com/watashi-museum/museum/pkg/core"
)

func TestShouldPublish(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    bool
	}{
		{0, true},
		{3 * time.Second / 120, false},
		{9 * time.Second / 60, false},
		{10*time.Second/60 + time.Microsecond, true},
		{time.Second, true},
		{time.Second + 2*time.Second/60, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShouldPublish(tt.elapsed), "elapsed=%v", tt.elapsed)
	}
}

func TestShouldPublish_OneInTen(t *testing.T) {
	n := 0
	for frame := 0; frame < 600; frame++ {
		elapsed := time.Duration(frame) * time.Second / 60
		// step half a frame in so float rounding cannot land on a boundary
		if ShouldPublish(elapsed + time.Second/120) {
			n++
		}
	}
	assert.Equal(t, 60, n)
}

func TestVisibleOthers(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	poses := []core.ViewerPose{
		{ID: "me", LastSeen: now},
		{ID: "fresh", LastSeen: now.Add(-9 * time.Second)},
		{ID: "edge", LastSeen: now.Add(-10 * time.Second)},
		{ID: "stale", LastSeen: now.Add(-15 * time.Second)},
		{ID: "another", LastSeen: now.Add(-time.Second)},
	}

	got := VisibleOthers(poses, "me", now, core.StalenessWindow)

	require.Len(t, got, 2)
	assert.Equal(t, "another", got[0].ID)
	assert.Equal(t, "fresh", got[1].ID)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStore(t *testing.T, clk *clock) *memory.Backend {
	t.Helper()
	b := memory.New(config.MemoryConfig{}, memory.WithClock(clk.Now))
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestTick_PublishesOnThrottledFrames(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newStore(t, clk)
	c := New(Dependencies{Store: store, Now: clk.Now}, Config{SessionID: "me", SpaceID: "space", Enabled: true})
	defer c.Close()

	cam := core.Camera{Position: core.Vec3{X: 1, Y: 2, Z: 3}, Rotation: core.Euler{Y: 0.5}}
	assert.False(t, c.Tick(3*time.Second/120, cam))
	assert.True(t, c.Tick(0, cam))

	require.Eventually(t, func() bool {
		poses, _ := store.Poses(context.Background(), "space")
		return len(poses) == 1
	}, time.Second, 5*time.Millisecond)

	poses, err := store.Poses(context.Background(), "space")
	require.NoError(t, err)
	assert.Equal(t, "me", poses[0].ID)
	assert.Equal(t, [3]float64{1, 2, 3}, poses[0].Position)
	assert.Equal(t, [3]float64{0, 0.5, 0}, poses[0].Orientation)
	assert.Equal(t, clk.Now(), poses[0].LastSeen)
}

type failingStore struct {
	storage.PoseStore
	calls atomic.Int32
}

func (f *failingStore) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	f.calls.Add(1)
	return errors.New("network down")
}

func TestTick_FailureIsSwallowed(t *testing.T) {
	store := &failingStore{}
	c := New(Dependencies{Store: store}, Config{SessionID: "me", SpaceID: "space", Enabled: true})

	assert.NotPanics(t, func() { c.Tick(0, core.Camera{}) })
	c.Close()
	assert.Equal(t, int32(1), store.calls.Load())
}

type blockingStore struct {
	storage.PoseStore
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingStore) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return ctx.Err()
}

func TestTick_NeverBlocksAndSkipsWhileInFlight(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	c := New(Dependencies{Store: store}, Config{SessionID: "me", SpaceID: "space", Enabled: true})

	start := time.Now()
	assert.True(t, c.Tick(0, core.Camera{}))
	assert.False(t, c.Tick(time.Second, core.Camera{}), "second publish skipped while first is in flight")
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(store.release)
	c.Close()
	assert.Equal(t, int32(1), store.calls.Load())
}

func TestDisabledClientIsInert(t *testing.T) {
	clk := &clock{now: time.Now()}
	store := newStore(t, clk)
	c := New(Dependencies{Store: store, Now: clk.Now}, Config{SessionID: "me", SpaceID: "space", Enabled: false})
	defer c.Close()

	assert.False(t, c.Tick(0, core.Camera{}))
	require.NoError(t, c.Subscribe(context.Background()))
	assert.Empty(t, c.Others())
	assert.Equal(t, 1, c.VisitorCount())

	poses, err := store.Poses(context.Background(), "space")
	require.NoError(t, err)
	assert.Empty(t, poses)
}

func TestSubscribe_SeesOthersAndHidesStale(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newStore(t, clk)
	ctx := context.Background()

	c := New(Dependencies{Store: store, Now: clk.Now}, Config{SessionID: "me", SpaceID: "space", Enabled: true})
	defer c.Close()
	require.NoError(t, c.Subscribe(ctx))

	require.NoError(t, store.PutPose(ctx, "space", core.ViewerPose{ID: "me"}))
	require.NoError(t, store.PutPose(ctx, "space", core.ViewerPose{ID: "other"}))

	require.Eventually(t, func() bool { return len(c.Others()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "other", c.Others()[0].ID)
	assert.Equal(t, 2, c.VisitorCount())

	clk.Advance(11 * time.Second)
	assert.Empty(t, c.Others(), "stale viewers disappear without a new snapshot")
}

func TestSwitchSpace_DropsOldSubscription(t *testing.T) {
	clk := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := newStore(t, clk)
	ctx := context.Background()

	c := New(Dependencies{Store: store, Now: clk.Now}, Config{SessionID: "me", SpaceID: "a", Enabled: true})
	defer c.Close()
	require.NoError(t, c.Subscribe(ctx))

	require.NoError(t, store.PutPose(ctx, "a", core.ViewerPose{ID: "in-a"}))
	require.Eventually(t, func() bool { return len(c.Others()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.SwitchSpace(ctx, "b"))
	assert.Equal(t, "b", c.Space())

	require.NoError(t, store.PutPose(ctx, "a", core.ViewerPose{ID: "in-a-2"}))
	require.NoError(t, store.PutPose(ctx, "b", core.ViewerPose{ID: "in-b"}))

	require.Eventually(t, func() bool {
		others := c.Others()
		return len(others) == 1 && others[0].ID == "in-b"
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	for _, p := range c.Others() {
		assert.NotContains(t, []string{"in-a", "in-a-2"}, p.ID)
	}
}
