// Package museum loads and follows the curated frames of one space.
package museum

import (
	"context"
	"log/slog"

	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

// Space is a read handle on one space's frames.
type Space struct {
	ID         string
	store      storage.FrameStore
	configured bool
	logger     *slog.Logger
}

// New creates a handle. When configured is false no backend call is made:
// the space reads as empty.
func New(store storage.FrameStore, id string, configured bool, logger *slog.Logger) *Space {
	if logger == nil {
		logger = slog.Default()
	}
	return &Space{ID: id, store: store, configured: configured && store != nil, logger: logger}
}

// Configured reports whether the space is backed by a shared store.
func (s *Space) Configured() bool { return s.configured }

// Frames loads the slot id -> record map.
func (s *Space) Frames(ctx context.Context) (map[string]core.FrameRecord, error) {
	if !s.configured {
		return map[string]core.FrameRecord{}, nil
	}
	frames, err := s.store.Frames(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if frames == nil {
		frames = map[string]core.FrameRecord{}
	}
	return frames, nil
}

// Watch streams the frame map. An unconfigured space yields a single empty
// snapshot.
func (s *Space) Watch(ctx context.Context) (*storage.Subscription[map[string]core.FrameRecord], error) {
	if !s.configured {
		sub := storage.NewSubscription[map[string]core.FrameRecord](ctx, nil)
		sub.Publish(map[string]core.FrameRecord{})
		return sub, nil
	}
	return s.store.WatchFrames(ctx, s.ID)
}

// Follow watches the space and hands every snapshot to apply until ctx is
// done. Stream errors are logged and the stream continues.
func (s *Space) Follow(ctx context.Context, apply func(map[string]core.FrameRecord)) error {
	sub, err := s.Watch(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer sub.Close()
		for {
			select {
			case frames := <-sub.Updates():
				apply(frames)
			case err := <-sub.Errors():
				s.logger.Warn("Frame subscription error", "space", s.ID, "error", err)
			case <-sub.Done():
				return
			}
		}
	}()
	return nil
}
