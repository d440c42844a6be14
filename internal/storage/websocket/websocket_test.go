package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
	"github.com/watashi-museum/museum/pkg/streaming"
)

// fakeServer is a minimal space service: it keeps poses and frames per
// space, acks put_frame, and pushes snapshots to watchers.
type fakeServer struct {
	t *testing.T

	mu       sync.Mutex
	messages []streaming.Envelope
	queries  []string
	poses    map[string][]core.ViewerPose
	frames   map[string]map[string]core.FrameRecord
	conns    []*ws.Conn
	watching map[*ws.Conn]map[string]bool
}

func newFakeServer(t *testing.T) (*httptest.Server, *fakeServer) {
	t.Helper()
	fs := &fakeServer{
		t:        t,
		poses:    make(map[string][]core.ViewerPose),
		frames:   make(map[string]map[string]core.FrameRecord),
		watching: make(map[*ws.Conn]map[string]bool),
	}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		fs.mu.Lock()
		fs.queries = append(fs.queries, r.URL.RawQuery)
		fs.conns = append(fs.conns, c)
		fs.watching[c] = make(map[string]bool)
		fs.mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			fs.handle(c, env)
		}
	}))
	return srv, fs
}

func (fs *fakeServer) handle(c *ws.Conn, env streaming.Envelope) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.messages = append(fs.messages, env)

	switch env.Type {
	case streaming.TypeWatchPoses:
		fs.watching[c]["poses:"+env.Space] = true
		fs.push(c, streaming.TypePoseSnapshot, env.Space, streaming.PoseSnapshotPayload{Poses: fs.poses[env.Space]})
	case streaming.TypeWatchFrames:
		fs.watching[c]["frames:"+env.Space] = true
		fs.push(c, streaming.TypeFrameSnapshot, env.Space, streaming.FrameSnapshotPayload{Frames: fs.frames[env.Space]})
	case streaming.TypePutPose:
		var p core.ViewerPose
		_ = json.Unmarshal(env.Payload, &p)
		fs.poses[env.Space] = append(fs.poses[env.Space], p)
		for conn, w := range fs.watching {
			if w["poses:"+env.Space] {
				fs.push(conn, streaming.TypePoseSnapshot, env.Space, streaming.PoseSnapshotPayload{Poses: fs.poses[env.Space]})
			}
		}
	case streaming.TypePutFrame:
		var p streaming.PutFramePayload
		_ = json.Unmarshal(env.Payload, &p)
		ack := streaming.AckMessage{Type: streaming.TypeAck, For: env.ID}
		if p.Frame.Title == "forbidden" {
			ack.Error = "not a curator of this space"
		} else {
			if fs.frames[env.Space] == nil {
				fs.frames[env.Space] = make(map[string]core.FrameRecord)
			}
			fs.frames[env.Space][p.Slot] = p.Frame
		}
		data, _ := json.Marshal(ack)
		_ = c.WriteMessage(ws.TextMessage, data)
		if ack.Error != "" {
			return
		}
		for conn, w := range fs.watching {
			if w["frames:"+env.Space] {
				fs.push(conn, streaming.TypeFrameSnapshot, env.Space, streaming.FrameSnapshotPayload{Frames: fs.frames[env.Space]})
			}
		}
	}
}

func (fs *fakeServer) push(c *ws.Conn, msgType, space string, payload any) {
	data, err := streaming.Marshal(msgType, "", space, payload)
	require.NoError(fs.t, err)
	_ = c.WriteMessage(ws.TextMessage, data)
}

func (fs *fakeServer) count(msgType string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	n := 0
	for _, m := range fs.messages {
		if m.Type == msgType {
			n++
		}
	}
	return n
}

// dropConnections closes every server-side connection.
func (fs *fakeServer) dropConnections() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, c := range fs.conns {
		_ = c.Close()
	}
	fs.conns = nil
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestBackend(t *testing.T, srv *httptest.Server) *Backend {
	t.Helper()
	b := New(Config{URL: wsURL(srv), SessionID: "sess-1", Token: "tok"}, Dependencies{})
	b.conn.initialBackoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInit_SendsSessionAndToken(t *testing.T) {
	srv, fs := newFakeServer(t)
	defer srv.Close()

	newTestBackend(t, srv)

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return len(fs.queries) == 1
	}, time.Second, 5*time.Millisecond)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Contains(t, fs.queries[0], "session=sess-1")
	assert.Contains(t, fs.queries[0], "token=tok")
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/stream"}, Dependencies{})
	require.Error(t, b.Init())
}

func TestWatchPoses_ReceivesUpdates(t *testing.T) {
	srv, _ := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)
	ctx := context.Background()

	sub, err := b.WatchPoses(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case poses := <-sub.Updates():
		assert.Empty(t, poses)
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	require.NoError(t, b.PutPose(ctx, "alice", core.ViewerPose{ID: "sess-1", Position: [3]float64{1, 2, 3}}))

	select {
	case poses := <-sub.Updates():
		require.Len(t, poses, 1)
		assert.Equal(t, [3]float64{1, 2, 3}, poses[0].Position)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after put")
	}
}

func TestWatchPoses_SharesOneServerWatch(t *testing.T) {
	srv, fs := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)
	ctx := context.Background()

	first, err := b.WatchPoses(ctx, "alice")
	require.NoError(t, err)
	<-first.Updates()

	second, err := b.WatchPoses(ctx, "alice")
	require.NoError(t, err)

	select {
	case <-second.Updates():
	case <-time.After(time.Second):
		t.Fatal("second watcher did not get the cached snapshot")
	}
	assert.Equal(t, 1, fs.count(streaming.TypeWatchPoses))

	first.Close()
	assert.Equal(t, 0, fs.count(streaming.TypeUnwatch))
	second.Close()
	assert.Eventually(t, func() bool { return fs.count(streaming.TypeUnwatch) == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoses_FirstSnapshot(t *testing.T) {
	srv, fs := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)

	fs.mu.Lock()
	fs.poses["alice"] = []core.ViewerPose{{ID: "other"}}
	fs.mu.Unlock()

	poses, err := b.Poses(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, poses, 1)
	assert.Equal(t, "other", poses[0].ID)
}

func TestPutFrame_Acked(t *testing.T) {
	srv, _ := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)
	ctx := context.Background()

	require.NoError(t, b.PutFrame(ctx, "alice", "frame-back-0", core.FrameRecord{Title: "Dawn"}))

	frames, err := b.Frames(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Dawn", frames["frame-back-0"].Title)
}

func TestPutFrame_Rejected(t *testing.T) {
	srv, _ := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)

	err := b.PutFrame(context.Background(), "bob", "frame-back-0", core.FrameRecord{Title: "forbidden"})
	require.Error(t, err)

	var ackErr *AckError
	require.True(t, errors.As(err, &ackErr))
	assert.Equal(t, "not a curator of this space", ackErr.Message)
}

func TestPutFrame_Validation(t *testing.T) {
	srv, _ := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)

	assert.ErrorIs(t, b.PutFrame(context.Background(), "alice", "nope", core.FrameRecord{}), storage.ErrInvalidSlot)
	assert.ErrorIs(t, b.PutPose(context.Background(), "alice", core.ViewerPose{}), storage.ErrInvalidSession)
}

type stubFrames struct {
	frames map[string]core.FrameRecord
}

func (s stubFrames) Frames(ctx context.Context, spaceID string) (map[string]core.FrameRecord, error) {
	return s.frames, nil
}

func TestFrames_UsesFetcher(t *testing.T) {
	srv, fs := newFakeServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), SessionID: "s"}, Dependencies{
		Frames: stubFrames{frames: map[string]core.FrameRecord{"frame-front-1": {Title: "Http"}}},
	})
	require.NoError(t, b.Init())
	defer b.Close()

	frames, err := b.Frames(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Http", frames["frame-front-1"].Title)
	assert.Equal(t, 0, fs.count(streaming.TypeWatchFrames))
}

func TestPrunePoses_Unsupported(t *testing.T) {
	b := New(Config{}, Dependencies{})
	_, err := b.PrunePoses(context.Background(), time.Now())
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}

func TestReconnect_ReplaysWatches(t *testing.T) {
	srv, fs := newFakeServer(t)
	defer srv.Close()
	b := newTestBackend(t, srv)
	ctx := context.Background()

	sub, err := b.WatchFrames(ctx, "alice")
	require.NoError(t, err)
	defer sub.Close()
	<-sub.Updates()

	fs.dropConnections()

	require.Eventually(t, func() bool { return fs.count(streaming.TypeWatchFrames) == 2 }, 2*time.Second, 10*time.Millisecond)

	// Writes flow again over the new connection.
	require.NoError(t, b.PutFrame(ctx, "alice", "frame-right-0", core.FrameRecord{Title: "After"}))
	select {
	case <-sub.Updates():
	case <-time.After(time.Second):
		t.Fatal("no snapshot after reconnect")
	}
}

func TestClose_EndsSubscriptions(t *testing.T) {
	srv, _ := newFakeServer(t)
	defer srv.Close()

	b := New(Config{URL: wsURL(srv), SessionID: "s"}, Dependencies{})
	require.NoError(t, b.Init())

	sub, err := b.WatchPoses(context.Background(), "alice")
	require.NoError(t, err)

	require.NoError(t, b.Close())
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}

	assert.ErrorIs(t, b.PutPose(context.Background(), "alice", core.ViewerPose{ID: "s"}), storage.ErrClosed)
	_, err = b.WatchFrames(context.Background(), "alice")
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.NoError(t, b.Close())
}
