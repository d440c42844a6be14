package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/watashi-museum/museum/internal/dispatcher"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/pkg/core"
	"github.com/watashi-museum/museum/pkg/streaming"
)

// RegisterHandlers registers the store-writing handlers with the dispatcher.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	// Pose writes arrive at up to 10Hz per viewer - buffered, drop when full
	d.Register(streaming.TypePutPose, m.handlePutPose, dispatcher.Buffered(10000), dispatcher.Logged())

	// Frame writes are acked - sync
	d.Register(streaming.TypePutFrame, m.handlePutFrame, dispatcher.Logged())
}

func (m *Manager) handlePutPose(e dispatcher.Event) (any, error) {
	var pose core.ViewerPose
	if err := json.Unmarshal(e.Payload, &pose); err != nil {
		return nil, fmt.Errorf("failed to decode pose: %w", err)
	}
	if pose.ID != e.Session {
		return nil, ErrSessionMismatch
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.WriteTimeout)
	defer cancel()
	if err := m.backend.PutPose(ctx, e.Space, pose); err != nil {
		return nil, fmt.Errorf("failed to store pose: %w", err)
	}

	m.deps.Visitors.Touch(e.Space, e.Session, m.deps.Now())
	return nil, nil
}

func (m *Manager) handlePutFrame(e dispatcher.Event) (any, error) {
	var p streaming.PutFramePayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}
	if !identity.CanCurate(e.Claims, e.Space) {
		return nil, ErrNotCurator
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.deps.WriteTimeout)
	defer cancel()
	if err := m.backend.PutFrame(ctx, e.Space, p.Slot, p.Frame); err != nil {
		return nil, fmt.Errorf("failed to store frame: %w", err)
	}
	return nil, nil
}
