// Package mongo implements storage.Backend on MongoDB. Poses and frames
// live in two collections keyed by space; the server stamps lastSeen and
// updatedAt with $currentDate.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

const (
	posesCollection  = "poses"
	framesCollection = "frames"
	opTimeout        = 5 * time.Second
)

type poseDoc struct {
	SpaceID     string     `bson:"spaceId"`
	SessionID   string     `bson:"sessionId"`
	Position    [3]float64 `bson:"position"`
	Orientation [3]float64 `bson:"orientation"`
	LastSeen    time.Time  `bson:"lastSeen"`
}

type frameDoc struct {
	SpaceID     string    `bson:"spaceId"`
	SlotID      string    `bson:"slotId"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	ImageURL    string    `bson:"imageUrl"`
	IsRotated   bool      `bson:"isRotated"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d poseDoc) core() core.ViewerPose {
	return core.ViewerPose{
		ID:          d.SessionID,
		Position:    d.Position,
		Orientation: d.Orientation,
		LastSeen:    d.LastSeen.UTC(),
	}
}

func (d frameDoc) core() core.FrameRecord {
	return core.FrameRecord{
		Title:       d.Title,
		Description: d.Description,
		ImageURL:    d.ImageURL,
		IsRotated:   d.IsRotated,
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// poseUpdate merges the pose fields and lets the server stamp lastSeen.
func poseUpdate(pose core.ViewerPose) bson.M {
	return bson.M{
		"$set": bson.M{
			"position":    pose.Position,
			"orientation": pose.Orientation,
		},
		"$currentDate": bson.M{"lastSeen": true},
	}
}

func frameUpdate(frame core.FrameRecord) bson.M {
	return bson.M{
		"$set": bson.M{
			"title":       frame.Title,
			"description": frame.Description,
			"imageUrl":    frame.ImageURL,
			"isRotated":   frame.IsRotated,
		},
		"$currentDate": bson.M{"updatedAt": true},
	}
}

// Dependencies holds the collaborators of the Mongo backend.
type Dependencies struct {
	Logger *slog.Logger
}

// Backend implements storage.Backend using MongoDB.
type Backend struct {
	cfg          config.MongoConfig
	pollInterval time.Duration
	deps         Dependencies

	client *mongo.Client
	db     *mongo.Database

	subsMu sync.Mutex
	subs   map[interface{ Close() }]struct{}
	closed atomic.Bool
}

var _ storage.Backend = (*Backend)(nil)

// New creates a Mongo backend. Watches poll every pollInterval.
func New(cfg config.MongoConfig, pollInterval time.Duration, deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Backend{
		cfg:          cfg,
		pollInterval: pollInterval,
		deps:         deps,
		subs:         make(map[interface{ Close() }]struct{}),
	}
}

// Init connects, pings and ensures the collection indexes.
func (b *Backend) Init() error {
	clientOptions := options.Client().
		ApplyURI(b.cfg.URI).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	b.client = client
	b.db = client.Database(b.cfg.Database)

	if err := b.ensureIndexes(ctx); err != nil {
		return err
	}

	b.deps.Logger.Info("Connected to MongoDB", "database", b.cfg.Database)
	return nil
}

func (b *Backend) ensureIndexes(ctx context.Context) error {
	_, err := b.db.Collection(posesCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "spaceId", Value: 1}, {Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "lastSeen", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create pose indexes: %w", err)
	}

	_, err = b.db.Collection(framesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "spaceId", Value: 1}, {Key: "slotId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create frame indexes: %w", err)
	}
	return nil
}

// Close ends the watches and disconnects.
func (b *Backend) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.subsMu.Lock()
	subs := make([]interface{ Close() }, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subsMu.Unlock()
	for _, s := range subs {
		s.Close()
	}

	if b.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := b.client.Disconnect(ctx); err != nil {
		b.deps.Logger.Error("Failed to disconnect from MongoDB", "error", err)
		return err
	}
	b.deps.Logger.Info("Disconnected from MongoDB")
	return nil
}

func (b *Backend) ready() error {
	if b.closed.Load() {
		return storage.ErrClosed
	}
	if b.db == nil {
		return fmt.Errorf("mongo backend not initialized")
	}
	return nil
}

// PutPose upserts the (space, session) document.
func (b *Backend) PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error {
	if err := storage.ValidatePose(spaceID, pose); err != nil {
		return err
	}
	if err := b.ready(); err != nil {
		return err
	}

	_, err := b.db.Collection(posesCollection).UpdateOne(ctx,
		bson.M{"spaceId": spaceID, "sessionId": pose.ID},
		poseUpdate(pose),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to put pose: %w", err)
	}
	return nil
}

// Poses returns every pose document of a space, sorted by session id.
func (b *Backend) Poses(ctx context.Context, spaceID string) ([]core.ViewerPose, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if err := b.ready(); err != nil {
		return nil, err
	}

	cur, err := b.db.Collection(posesCollection).Find(ctx,
		bson.M{"spaceId": spaceID},
		options.Find().SetSort(bson.D{{Key: "sessionId", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find poses: %w", err)
	}
	defer cur.Close(ctx)

	var docs []poseDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode poses: %w", err)
	}
	out := make([]core.ViewerPose, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.core())
	}
	return out, nil
}

// WatchPoses polls the poses of a space.
func (b *Backend) WatchPoses(ctx context.Context, spaceID string) (*storage.Subscription[[]core.ViewerPose], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if err := b.ready(); err != nil {
		return nil, err
	}
	sub := storage.Poll(ctx, b.pollInterval, func(ctx context.Context) ([]core.ViewerPose, error) {
		return b.Poses(ctx, spaceID)
	})
	b.track(sub)
	return sub, nil
}

// PrunePoses deletes poses last seen before the cutoff.
func (b *Backend) PrunePoses(ctx context.Context, before time.Time) (int, error) {
	if err := b.ready(); err != nil {
		return 0, err
	}
	res, err := b.db.Collection(posesCollection).DeleteMany(ctx, bson.M{"lastSeen": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to prune poses: %w", err)
	}
	return int(res.DeletedCount), nil
}

// PutFrame upserts the (space, slot) document.
func (b *Backend) PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error {
	if err := storage.ValidateFrame(spaceID, slotID); err != nil {
		return err
	}
	if err := b.ready(); err != nil {
		return err
	}

	_, err := b.db.Collection(framesCollection).UpdateOne(ctx,
		bson.M{"spaceId": spaceID, "slotId": slotID},
		frameUpdate(frame),
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to put frame: %w", err)
	}
	return nil
}

// Frames returns the slot id -> record map of a space.
func (b *Backend) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if err := b.ready(); err != nil {
		return nil, err
	}

	cur, err := b.db.Collection(framesCollection).Find(ctx, bson.M{"spaceId": spaceID})
	if err != nil {
		return nil, fmt.Errorf("failed to find frames: %w", err)
	}
	defer cur.Close(ctx)

	var docs []frameDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode frames: %w", err)
	}
	out := make(map[string]core.FrameRecord, len(docs))
	for _, d := range docs {
		out[d.SlotID] = d.core()
	}
	return out, nil
}

// WatchFrames polls the frames of a space.
func (b *Backend) WatchFrames(ctx context.Context, spaceID string) (*storage.Subscription[map[string]core.FrameRecord], error) {
	if spaceID == "" {
		return nil, storage.ErrInvalidSpace
	}
	if err := b.ready(); err != nil {
		return nil, err
	}
	sub := storage.Poll(ctx, b.pollInterval, func(ctx context.Context) (map[string]core.FrameRecord, error) {
		return b.Frames(ctx, spaceID)
	})
	b.track(sub)
	return sub, nil
}

type tracked interface {
	Close()
	Done() <-chan struct{}
}

func (b *Backend) track(sub tracked) {
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
