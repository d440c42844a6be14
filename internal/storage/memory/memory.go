// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

type poseSub = storage.Subscription[[]core.ViewerPose]
type frameSub = storage.Subscription[map[string]core.FrameRecord]

// Backend keeps poses and frames in process memory. Watchers are pushed a
// fresh snapshot on every write. Frames survive restarts through the
// snapshot file when an output directory is configured.
type Backend struct {
	cfg config.MemoryConfig
	now func() time.Time

	poses  map[string]map[string]core.ViewerPose  // space -> session -> pose
	frames map[string]map[string]core.FrameRecord // space -> slot -> record

	poseWatchers  map[string]map[*poseSub]struct{}
	frameWatchers map[string]map[*frameSub]struct{}

	closed bool
	mu     sync.RWMutex
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock replaces the clock used for LastSeen and UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates a new memory backend
func New(cfg config.MemoryConfig, opts ...Option) *Backend {
	b := &Backend{
		cfg:           cfg,
		now:           time.Now,
		poses:         make(map[string]map[string]core.ViewerPose),
		frames:        make(map[string]map[string]core.FrameRecord),
		poseWatchers:  make(map[string]map[*poseSub]struct{}),
		frameWatchers: make(map[string]map[*frameSub]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init restores frames from the snapshot file, if any.
func (b *Backend) Init() error {
	if b.cfg.OutputDir == "" {
		return nil
	}
	frames, err := b.readSnapshot()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for space, slots := range frames {
		b.frames[space] = slots
	}
	return nil
}

// Close ends every subscription and writes the frame snapshot.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []interface{ Close() }
	for _, set := range b.poseWatchers {
		for s := range set {
			subs = append(subs, s)
		}
	}
	for _, set := range b.frameWatchers {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}

	if b.cfg.OutputDir == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writeSnapshot()
}

// PutPose merges a pose and stamps LastSeen.
func (b *Backend) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	if err := storage.ValidatePose(spaceID, pose); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}

	pose.LastSeen = b.now()
	if b.poses[spaceID] == nil {
		b.poses[spaceID] = make(map[string]core.ViewerPose)
	}
	b.poses[spaceID][pose.ID] = pose

	for s := range b.poseWatchers[spaceID] {
		s.Publish(b.posesLocked(spaceID))
	}
	return nil
}

// Poses returns all poses of a space, sorted by session id.
func (b *Backend) Poses(ctx context.Context, spaceID string) ([]core.ViewerPose, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.posesLocked(spaceID), nil
}

func (b *Backend) posesLocked(spaceID string) []core.ViewerPose {
	out := make([]core.ViewerPose, 0, len(b.poses[spaceID]))
	for _, p := range b.poses[spaceID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WatchPoses subscribes to the pose set of a space.
func (b *Backend) WatchPoses(ctx context.Context, spaceID string) (*poseSub, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrClosed
	}

	var sub *poseSub
	sub = storage.NewSubscription[[]core.ViewerPose](ctx, func() {
		b.mu.Lock()
		delete(b.poseWatchers[spaceID], sub)
		b.mu.Unlock()
	})
	if b.poseWatchers[spaceID] == nil {
		b.poseWatchers[spaceID] = make(map[*poseSub]struct{})
	}
	b.poseWatchers[spaceID][sub] = struct{}{}
	sub.Publish(b.posesLocked(spaceID))
	return sub, nil
}

// PrunePoses removes poses last seen before the cutoff.
func (b *Backend) PrunePoses(ctx context.Context, before time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for spaceID, sessions := range b.poses {
		changed := false
		for id, p := range sessions {
			if p.LastSeen.Before(before) {
				delete(sessions, id)
				removed++
				changed = true
			}
		}
		if len(sessions) == 0 {
			delete(b.poses, spaceID)
		}
		if changed {
			for s := range b.poseWatchers[spaceID] {
				s.Publish(b.posesLocked(spaceID))
			}
		}
	}
	return removed, nil
}

// PutFrame merges a frame record into its slot and stamps UpdatedAt.
func (b *Backend) PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error {
	if err := storage.ValidateFrame(spaceID, slotID); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return storage.ErrClosed
	}

	frame.UpdatedAt = b.now()
	if b.frames[spaceID] == nil {
		b.frames[spaceID] = make(map[string]core.FrameRecord)
	}
	b.frames[spaceID][slotID] = frame

	for s := range b.frameWatchers[spaceID] {
		s.Publish(b.framesLocked(spaceID))
	}
	return nil
}

// Frames returns a copy of the frame map of a space.
func (b *Backend) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.framesLocked(spaceID), nil
}

func (b *Backend) framesLocked(spaceID string) map[string]core.FrameRecord {
	out := make(map[string]core.FrameRecord, len(b.frames[spaceID]))
	for k, v := range b.frames[spaceID] {
		out[k] = v
	}
	return out
}

// WatchFrames subscribes to the frame map of a space.
func (b *Backend) WatchFrames(ctx context.Context, spaceID string) (*frameSub, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, storage.ErrClosed
	}

	var sub *frameSub
	sub = storage.NewSubscription[map[string]core.FrameRecord](ctx, func() {
		b.mu.Lock()
		delete(b.frameWatchers[spaceID], sub)
		b.mu.Unlock()
	})
	if b.frameWatchers[spaceID] == nil {
		b.frameWatchers[spaceID] = make(map[*frameSub]struct{})
	}
	b.frameWatchers[spaceID][sub] = struct{}{}
	sub.Publish(b.framesLocked(spaceID))
	return sub, nil
}

// Spaces returns the ids of every space holding frames, sorted.
func (b *Backend) Spaces() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.frames))
	for id := range b.frames {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
