// Package presence publishes the local viewer's pose to the shared pose
// store and keeps the list of other viewers in the same space.
package presence

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
)

// PublishDivisor publishes one pose every ten frames of a 60 Hz loop.
const PublishDivisor = 10

// DefaultPublishTimeout bounds a single pose write.
const DefaultPublishTimeout = 2 * time.Second

// ShouldPublish reports whether the frame at elapsed time since the loop
// started is a publishing frame: floor(seconds*60) divisible by ten.
func ShouldPublish(elapsed time.Duration) bool {
	frame := int64(math.Floor(elapsed.Seconds() * 60))
	return frame%PublishDivisor == 0
}

// VisibleOthers returns the poses that are not self and were seen within
// window of now, sorted by id.
func VisibleOthers(poses []core.ViewerPose, self string, now time.Time, window time.Duration) []core.ViewerPose {
	out := make([]core.ViewerPose, 0, len(poses))
	for _, p := range poses {
		if p.ID == self || !p.Fresh(now, window) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Config holds the client's identity and policy.
type Config struct {
	SessionID string
	SpaceID   string
	// Enabled is false when no shared backend is configured; the client
	// then never reads, writes or subscribes.
	Enabled        bool
	PublishTimeout time.Duration
	Window         time.Duration
}

// Dependencies holds the client's collaborators.
type Dependencies struct {
	Store  storage.PoseStore
	Logger *slog.Logger
	Now    func() time.Time
}

type snapshot struct {
	gen   uint64
	poses []core.ViewerPose
}

// Client is the position sync client of one local viewer.
type Client struct {
	deps Dependencies
	cfg  Config

	mu     sync.Mutex // guards space, sub, gen
	space  string
	sub    *storage.Subscription[[]core.ViewerPose]
	gen    uint64
	closed bool

	latest     atomic.Pointer[snapshot]
	publishing atomic.Bool
	wg         sync.WaitGroup
}

// New creates a client for cfg.SpaceID. It does not subscribe until
// Subscribe is called.
func New(deps Dependencies, cfg Config) *Client {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.Window <= 0 {
		cfg.Window = core.StalenessWindow
	}
	c := &Client{deps: deps, cfg: cfg, space: cfg.SpaceID}
	c.latest.Store(&snapshot{})
	return c
}

// Enabled reports whether the client talks to the store at all.
func (c *Client) Enabled() bool { return c.cfg.Enabled && c.deps.Store != nil }

// SessionID returns the id the local pose is written under.
func (c *Client) SessionID() string { return c.cfg.SessionID }

// Space returns the current space id.
func (c *Client) Space() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.space
}

// Tick is called once per frame. On publishing frames it starts an
// asynchronous pose write and returns true. It never blocks; if the previous
// write is still in flight the frame is skipped.
func (c *Client) Tick(elapsed time.Duration, cam core.Camera) bool {
	if !c.Enabled() || !ShouldPublish(elapsed) {
		return false
	}
	return c.publish(core.PoseFromCamera(c.cfg.SessionID, cam))
}

func (c *Client) publish(pose core.ViewerPose) bool {
	c.mu.Lock()
	space, closed := c.space, c.closed
	c.mu.Unlock()
	if closed || space == "" {
		return false
	}
	if !c.publishing.CompareAndSwap(false, true) {
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.publishing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PublishTimeout)
		defer cancel()
		if err := c.deps.Store.PutPose(ctx, space, pose); err != nil {
			c.deps.Logger.Debug("Pose publish failed", "space", space, "error", err)
		}
	}()
	return true
}

// Subscribe starts watching the current space, cancelling any previous
// subscription first.
func (c *Client) Subscribe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribeLocked(ctx)
}

// SwitchSpace moves the client to another space. The old subscription is
// closed before the new one is opened and the others list is cleared.
func (c *Client) SwitchSpace(ctx context.Context, spaceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.space = spaceID
	return c.subscribeLocked(ctx)
}

func (c *Client) subscribeLocked(ctx context.Context) error {
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	c.gen++
	c.latest.Store(&snapshot{gen: c.gen})

	if !c.Enabled() || c.closed || c.space == "" {
		return nil
	}

	sub, err := c.deps.Store.WatchPoses(ctx, c.space)
	if err != nil {
		return err
	}
	c.sub = sub

	c.wg.Add(1)
	go c.consume(sub, c.gen, c.space)
	return nil
}

func (c *Client) consume(sub *storage.Subscription[[]core.ViewerPose], gen uint64, space string) {
	defer c.wg.Done()
	for {
		select {
		case poses := <-sub.Updates():
			c.mu.Lock()
			if c.gen == gen {
				c.latest.Store(&snapshot{gen: gen, poses: poses})
			}
			c.mu.Unlock()
		case err := <-sub.Errors():
			c.deps.Logger.Warn("Pose subscription error", "space", space, "error", err)
		case <-sub.Done():
			return
		}
	}
}

// Others returns the other viewers currently visible: not this session and
// seen within the staleness window.
func (c *Client) Others() []core.ViewerPose {
	snap := c.latest.Load()
	return VisibleOthers(snap.poses, c.cfg.SessionID, c.deps.Now(), c.cfg.Window)
}

// VisitorCount is the number of viewers in the space, the local one included.
func (c *Client) VisitorCount() int {
	return len(c.Others()) + 1
}

// Close ends the subscription and waits for in-flight writes.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.sub != nil {
		c.sub.Close()
		c.sub = nil
	}
	c.gen++
	c.mu.Unlock()
	c.wg.Wait()
}
