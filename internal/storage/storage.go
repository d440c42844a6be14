// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/watashi-museum/museum/pkg/core"
)

var (
	// ErrInvalidSpace is returned when an operation names no space.
	ErrInvalidSpace = errors.New("space id is required")
	// ErrInvalidSession is returned when a pose carries no session id.
	ErrInvalidSession = errors.New("pose session id is required")
	// ErrInvalidSlot is returned for frame writes to an unknown slot.
	ErrInvalidSlot = errors.New("unknown frame slot")
	// ErrClosed is returned by backends after Close.
	ErrClosed = errors.New("storage backend closed")
)

// PoseStore holds the live viewer poses of every space.
type PoseStore interface {
	// PutPose merges pose into the (space, pose.ID) entry and stamps LastSeen
	// with the store's clock.
	PutPose(ctx context.Context, spaceID string, pose core.ViewerPose) error
	// Poses returns every stored pose of a space, stale ones included.
	Poses(ctx context.Context, spaceID string) ([]core.ViewerPose, error)
	// WatchPoses streams the full pose set of a space on every change.
	// The first snapshot is delivered as soon as it is available.
	WatchPoses(ctx context.Context, spaceID string) (*Subscription[[]core.ViewerPose], error)
	// PrunePoses deletes poses last seen before the cutoff, in all spaces.
	PrunePoses(ctx context.Context, before time.Time) (int, error)
}

// FrameStore holds the curated frame records of every space.
type FrameStore interface {
	// PutFrame merges frame into the slot and stamps UpdatedAt.
	PutFrame(ctx context.Context, spaceID, slotID string, frame core.FrameRecord) error
	// Frames returns the slot id -> record map of a space.
	Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error)
	// WatchFrames streams the frame map of a space on every change.
	WatchFrames(ctx context.Context, spaceID string) (*Subscription[map[string]core.FrameRecord], error)
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	PoseStore
	FrameStore
}

// ValidatePose checks the scope of a pose write.
func ValidatePose(spaceID string, pose core.ViewerPose) error {
	if spaceID == "" {
		return ErrInvalidSpace
	}
	if pose.ID == "" {
		return ErrInvalidSession
	}
	return nil
}

// ValidateFrame checks the scope of a frame write.
func ValidateFrame(spaceID, slotID string) error {
	if spaceID == "" {
		return ErrInvalidSpace
	}
	if !core.ValidSlotID(slotID) {
		return fmt.Errorf("%w: %q", ErrInvalidSlot, slotID)
	}
	return nil
}
