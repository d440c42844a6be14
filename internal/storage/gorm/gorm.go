// Package gormstorage implements the storage.Backend interface using GORM
// over SQLite or PostgreSQL. Pose writes are coalesced per session and
// flushed by a background writer; frame writes go straight to the DB.
package gormstorage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watashi-museum/museum/internal/database"
	"github.com/watashi-museum/museum/internal/model"
	"github.com/watashi-museum/museum/internal/model/convert"
	"github.com/watashi-museum/museum/internal/queue"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	Now    func() time.Time
}

// Config holds writer and watch timings.
type Config struct {
	PollInterval  time.Duration
	FlushInterval time.Duration
	DumpInterval  time.Duration
	DumpPath      string // SQLite only: target of periodic VACUUM INTO dumps
}

type poseKey struct {
	space   string
	session string
}

type closer interface {
	Close()
	Done() <-chan struct{}
}

// Backend implements storage.Backend using GORM with a coalescing pose writer.
type Backend struct {
	deps  Dependencies
	cfg   Config
	poses *queue.Coalescer[poseKey, model.Pose]

	flushMu  sync.Mutex
	subsMu   sync.Mutex
	subs     map[closer]struct{}
	stopChan chan struct{}
	wg       sync.WaitGroup
	closed   atomic.Bool
}

var _ storage.Backend = (*Backend)(nil)

// New creates a new GORM storage backend.
func New(deps Dependencies, cfg Config) *Backend {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 200 * time.Millisecond
	}
	return &Backend{
		deps:     deps,
		cfg:      cfg,
		poses:    queue.NewCoalescer[poseKey, model.Pose](),
		subs:     make(map[closer]struct{}),
		stopChan: make(chan struct{}),
	}
}

// Init runs schema migration and starts the writer and dump goroutines.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return fmt.Errorf("gorm backend: no database")
	}
	if err := database.Migrate(b.deps.DB); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}

	b.wg.Add(1)
	go b.writerLoop()

	if b.cfg.DumpPath != "" && b.cfg.DumpInterval > 0 && b.deps.DB.Dialector.Name() == "sqlite" {
		b.wg.Add(1)
		go b.dumpLoop()
	}
	return nil
}

// Close stops the background goroutines, flushes pending poses and ends
// every subscription.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.stopChan)
	b.wg.Wait()

	b.subsMu.Lock()
	subs := make([]closer, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subsMu.Unlock()
	for _, s := range subs {
		s.Close()
	}

	return b.flush(context.Background())
}

// PutPose queues the pose for the next flush and stamps LastSeen.
func (b *Backend) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	if err := storage.ValidatePose(spaceID, pose); err != nil {
		return err
	}
	if b.closed.Load() {
		return storage.ErrClosed
	}

	pose.LastSeen = b.deps.Now().UTC()
	row, err := convert.CoreToPose(spaceID, pose)
	if err != nil {
		return err
	}
	b.poses.Put(poseKey{space: spaceID, session: pose.ID}, row)
	return nil
}

// Poses flushes pending writes and returns all poses of a space, sorted by
// session id.
func (b *Backend) Poses(ctx context.Context, spaceID string) ([]core.ViewerPose, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if err := b.flush(ctx); err != nil {
		return nil, err
	}

	var rows []model.Pose
	if err := b.deps.DB.WithContext(ctx).
		Where("space_id = ?", spaceID).
		Order("session_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query poses: %w", err)
	}

	out := make([]core.ViewerPose, 0, len(rows))
	for _, r := range rows {
		out = append(out, convert.PoseToCore(r))
	}
	return out, nil
}

// WatchPoses polls the pose set of a space.
func (b *Backend) WatchPoses(ctx context.Context, spaceID string) (*storage.Subscription[[]core.ViewerPose], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if b.closed.Load() {
		return nil, storage.ErrClosed
	}

	sub := storage.Poll(ctx, b.cfg.PollInterval, func(ctx context.Context) ([]core.ViewerPose, error) {
		return b.Poses(ctx, spaceID)
	})
	b.track(sub)
	return sub, nil
}

// PrunePoses deletes poses last seen before the cutoff.
func (b *Backend) PrunePoses(ctx context.Context, before time.Time) (int, error) {
	if err := b.flush(ctx); err != nil {
		return 0, err
	}
	res := b.deps.DB.WithContext(ctx).Where("last_seen < ?", before.UTC()).Delete(&model.Pose{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune poses: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// PutFrame upserts a frame record into its slot and stamps UpdatedAt.
func (b *Backend) PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error {
	if err := storage.ValidateFrame(spaceID, slotID); err != nil {
		return err
	}
	if b.closed.Load() {
		return storage.ErrClosed
	}

	frame.UpdatedAt = b.deps.Now().UTC()
	row := convert.CoreToFrame(spaceID, slotID, frame)
	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "space_id"}, {Name: "slot_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert frame %s/%s: %w", spaceID, slotID, err)
	}
	return nil
}

// Frames returns the frame map of a space.
func (b *Backend) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}

	var rows []model.Frame
	if err := b.deps.DB.WithContext(ctx).Where("space_id = ?", spaceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query frames: %w", err)
	}

	out := make(map[string]core.FrameRecord, len(rows))
	for _, r := range rows {
		out[r.SlotID] = convert.FrameToCore(r)
	}
	return out, nil
}

// WatchFrames polls the frame map of a space.
func (b *Backend) WatchFrames(ctx context.Context, spaceID string) (*storage.Subscription[map[string]core.FrameRecord], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if b.closed.Load() {
		return nil, storage.ErrClosed
	}

	sub := storage.Poll(ctx, b.cfg.PollInterval, func(ctx context.Context) (map[string]core.FrameRecord, error) {
		return b.Frames(ctx, spaceID)
	})
	b.track(sub)
	return sub, nil
}

// track registers a subscription so Close can end it.
func (b *Backend) track(sub closer) {
	b.subsMu.Lock()
	b.subs[sub] = struct{}{}
	b.subsMu.Unlock()

	go func() {
		<-sub.Done()
		b.subsMu.Lock()
		delete(b.subs, sub)
		b.subsMu.Unlock()
	}()
}

// flush writes all pending poses in one upsert. A failed batch is requeued
// behind any newer pose of the same session.
func (b *Backend) flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	items := b.poses.Drain()
	if len(items) == 0 {
		return nil
	}

	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "space_id"}, {Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"position", "orientation", "last_seen"}),
	}).Create(&items).Error
	if err != nil {
		for _, p := range items {
			b.poses.PutIfAbsent(poseKey{space: p.SpaceID, session: p.SessionID}, p)
		}
		return fmt.Errorf("write %d poses: %w", len(items), err)
	}
	return nil
}

// writerLoop periodically drains the pose queue into the DB.
func (b *Backend) writerLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.flush(context.Background()); err != nil {
				b.deps.Logger.Error("Error writing poses", "error", err)
			}
		}
	}
}

// dumpLoop periodically dumps the SQLite database to disk via VACUUM INTO.
// VACUUM INTO creates a point-in-time snapshot, so no pause mechanism is needed.
func (b *Backend) dumpLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.DumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			start := time.Now()
			if err := database.DumpToDisk(b.deps.DB, b.cfg.DumpPath); err != nil {
				b.deps.Logger.Error("Error dumping to disk", "error", err)
			} else {
				b.deps.Logger.Debug("Dumped to disk", "path", b.cfg.DumpPath, "duration", time.Since(start))
			}
		}
	}
}
