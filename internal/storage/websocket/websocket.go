package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
	"github.com/watashi-museum/museum/pkg/streaming"
)

// ErrPruneRemote is returned by PrunePoses: pruning runs on the server.
var ErrPruneRemote = fmt.Errorf("prune poses over websocket: %w", errors.ErrUnsupported)

// AckError carries a rejection reported by the server.
type AckError struct {
	Message string
}

func (e *AckError) Error() string {
	return "server rejected request: " + e.Message
}

// FrameFetcher reads a frame map over a side channel. *api.Client
// satisfies it.
type FrameFetcher interface {
	Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error)
}

// Config holds WebSocket backend configuration.
type Config struct {
	URL       string // stream endpoint, e.g. ws://host/api/v1/stream
	SessionID string
	Token     string
}

// Dependencies holds optional collaborators of the backend.
type Dependencies struct {
	Frames FrameFetcher // when nil, Frames reads the first watch snapshot
	Logger *slog.Logger
}

type poseSub = storage.Subscription[[]core.ViewerPose]
type frameSub = storage.Subscription[map[string]core.FrameRecord]

// Backend talks to the space service over one WebSocket. Watches are
// multiplexed per space and replayed after a reconnect.
type Backend struct {
	conn *connection
	cfg  Config
	deps Dependencies

	mu            sync.Mutex
	poseWatchers  map[string]map[*poseSub]struct{}
	frameWatchers map[string]map[*frameSub]struct{}
	lastPoses     map[string][]core.ViewerPose
	lastFrames    map[string]map[string]core.FrameRecord
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new WebSocket storage backend.
func New(cfg Config, deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	b := &Backend{
		conn:          newConnection(deps.Logger),
		cfg:           cfg,
		deps:          deps,
		poseWatchers:  make(map[string]map[*poseSub]struct{}),
		frameWatchers: make(map[string]map[*frameSub]struct{}),
		lastPoses:     make(map[string][]core.ViewerPose),
		lastFrames:    make(map[string]map[string]core.FrameRecord),
	}
	b.conn.onMessage = b.handleMessage
	b.conn.replay = b.watchMessages
	return b
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.SessionID, b.cfg.Token)
}

// Close ends every subscription and disconnects from the WebSocket server.
func (b *Backend) Close() error {
	b.mu.Lock()
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

	err := b.conn.close()
	for _, s := range subs {
		s.Close()
	}
	return err
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType, space string, payload any) error {
	data, err := streaming.Marshal(msgType, "", space, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	if !b.conn.send(data) {
		return fmt.Errorf("send %s: queue full", msgType)
	}
	return nil
}

// sendEnvelopeAndWait marshals the payload under a fresh request id and
// waits for the server ack.
func (b *Backend) sendEnvelopeAndWait(msgType, space string, payload any) error {
	id := uuid.NewString()
	data, err := streaming.Marshal(msgType, id, space, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	return b.conn.sendAndWait(data, id, ackTimeout)
}

// PutPose publishes the pose. The server stamps LastSeen.
func (b *Backend) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	if err := storage.ValidatePose(spaceID, pose); err != nil {
		return err
	}
	if b.isClosed() {
		return storage.ErrClosed
	}
	return b.sendEnvelope(streaming.TypePutPose, spaceID, pose)
}

// Poses returns the first pose snapshot of a space.
func (b *Backend) Poses(ctx context.Context, spaceID string) ([]core.ViewerPose, error) {
	sub, err := b.WatchPoses(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	defer sub.Close()
	return first(ctx, sub)
}

// WatchPoses subscribes to the pose snapshots of a space.
func (b *Backend) WatchPoses(ctx context.Context, spaceID string) (*storage.Subscription[[]core.ViewerPose], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if b.isClosed() {
		return nil, storage.ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var sub *poseSub
	sub = storage.NewSubscription[[]core.ViewerPose](ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.poseWatchers[spaceID], sub)
		if len(b.poseWatchers[spaceID]) == 0 {
			delete(b.poseWatchers, spaceID)
			delete(b.lastPoses, spaceID)
			_ = b.sendEnvelope(streaming.TypeUnwatch, spaceID, streaming.UnwatchPayload{Stream: streaming.TypeWatchPoses})
		}
	})

	if len(b.poseWatchers[spaceID]) == 0 {
		b.poseWatchers[spaceID] = make(map[*poseSub]struct{})
		if err := b.sendEnvelope(streaming.TypeWatchPoses, spaceID, nil); err != nil {
			delete(b.poseWatchers, spaceID)
			return nil, err
		}
	} else if last, ok := b.lastPoses[spaceID]; ok {
		sub.Publish(last)
	}
	b.poseWatchers[spaceID][sub] = struct{}{}
	return sub, nil
}

// PrunePoses is not available to viewers.
func (b *Backend) PrunePoses(ctx context.Context, before time.Time) (int, error) {
	return 0, ErrPruneRemote
}

// PutFrame writes a slot and waits for the server to acknowledge it.
func (b *Backend) PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error {
	if err := storage.ValidateFrame(spaceID, slotID); err != nil {
		return err
	}
	if b.isClosed() {
		return storage.ErrClosed
	}
	return b.sendEnvelopeAndWait(streaming.TypePutFrame, spaceID, streaming.PutFramePayload{Slot: slotID, Frame: frame})
}

// Frames returns the frame map of a space.
func (b *Backend) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if b.deps.Frames != nil {
		return b.deps.Frames.Frames(ctx, spaceID)
	}

	sub, err := b.WatchFrames(ctx, spaceID)
	if err != nil {
		return nil, err
	}
	defer sub.Close()
	return first(ctx, sub)
}

// WatchFrames subscribes to the frame snapshots of a space.
func (b *Backend) WatchFrames(ctx context.Context, spaceID string) (*storage.Subscription[map[string]core.FrameRecord], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if b.isClosed() {
		return nil, storage.ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var sub *frameSub
	sub = storage.NewSubscription[map[string]core.FrameRecord](ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.frameWatchers[spaceID], sub)
		if len(b.frameWatchers[spaceID]) == 0 {
			delete(b.frameWatchers, spaceID)
			delete(b.lastFrames, spaceID)
			_ = b.sendEnvelope(streaming.TypeUnwatch, spaceID, streaming.UnwatchPayload{Stream: streaming.TypeWatchFrames})
		}
	})

	if len(b.frameWatchers[spaceID]) == 0 {
		b.frameWatchers[spaceID] = make(map[*frameSub]struct{})
		if err := b.sendEnvelope(streaming.TypeWatchFrames, spaceID, nil); err != nil {
			delete(b.frameWatchers, spaceID)
			return nil, err
		}
	} else if last, ok := b.lastFrames[spaceID]; ok {
		sub.Publish(last)
	}
	b.frameWatchers[spaceID][sub] = struct{}{}
	return sub, nil
}

// handleMessage fans server snapshots out to the watchers of their space.
func (b *Backend) handleMessage(env streaming.Envelope) {
	switch env.Type {
	case streaming.TypePoseSnapshot:
		var p streaming.PoseSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			b.deps.Logger.Warn("Bad pose snapshot", "space", env.Space, "error", err)
			return
		}
		if p.Poses == nil {
			p.Poses = []core.ViewerPose{}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, watching := b.poseWatchers[env.Space]; !watching {
			return
		}
		b.lastPoses[env.Space] = p.Poses
		for s := range b.poseWatchers[env.Space] {
			s.Publish(p.Poses)
		}

	case streaming.TypeFrameSnapshot:
		var p streaming.FrameSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			b.deps.Logger.Warn("Bad frame snapshot", "space", env.Space, "error", err)
			return
		}
		if p.Frames == nil {
			p.Frames = map[string]core.FrameRecord{}
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, watching := b.frameWatchers[env.Space]; !watching {
			return
		}
		b.lastFrames[env.Space] = p.Frames
		for s := range b.frameWatchers[env.Space] {
			s.Publish(p.Frames)
		}

	default:
		b.deps.Logger.Debug("Unhandled message", "type", env.Type)
	}
}

// watchMessages returns a watch envelope per active stream, for replay.
func (b *Backend) watchMessages() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out [][]byte
	for space := range b.poseWatchers {
		if data, err := streaming.Marshal(streaming.TypeWatchPoses, "", space, nil); err == nil {
			out = append(out, data)
		}
	}
	for space := range b.frameWatchers {
		if data, err := streaming.Marshal(streaming.TypeWatchFrames, "", space, nil); err == nil {
			out = append(out, data)
		}
	}
	return out
}

func (b *Backend) isClosed() bool {
	b.conn.mu.Lock()
	defer b.conn.mu.Unlock()
	return b.conn.closed
}

// first waits for the first snapshot of sub.
func first[T any](ctx context.Context, sub *storage.Subscription[T]) (T, error) {
	var zero T
	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	select {
	case v := <-sub.Updates():
		return v, nil
	case err := <-sub.Errors():
		return zero, err
	case <-sub.Done():
		return zero, storage.ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-timer.C:
		return zero, fmt.Errorf("timeout waiting for snapshot")
	}
}
