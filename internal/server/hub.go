package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/watashi-museum/museum/internal/dispatcher"
	"github.com/watashi-museum/museum/internal/identity"
	"github.com/watashi-museum/museum/internal/storage"
	"github.com/watashi-museum/museum/pkg/core"
	"github.com/watashi-museum/museum/pkg/streaming"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub tracks the open stream connections.
type Hub struct {
	store      storage.Backend
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates an empty hub.
func NewHub(store storage.Backend, d *dispatcher.Dispatcher, logger *slog.Logger) *Hub {
	return &Hub{
		store:      store,
		dispatcher: d,
		logger:     logger,
		clients:    make(map[*Client]struct{}),
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.stop()
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Info("Client registered", "session", c.session)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.logger.Info("Client unregistered", "session", c.session)
}

// stream upgrades a viewer connection. The session query parameter scopes
// its pose writes.
func (s *Server) stream(c echo.Context) error {
	session := c.QueryParam("session")
	if session == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session is required")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.deps.Logger.Error("WebSocket upgrade failed", "error", err)
		return err
	}

	client := newClient(s.hub, conn, session, claimsFrom(c))
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
	return nil
}

type watchKey struct {
	stream string
	space  string
}

// Client is one viewer connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session string
	claims  *identity.Claims
	logger  *slog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	watches map[watchKey]context.CancelFunc
}

func newClient(hub *Hub, conn *websocket.Conn, session string, claims *identity.Claims) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		claims:  claims,
		logger:  hub.logger.With("session", session),
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		watches: make(map[watchKey]context.CancelFunc),
	}
}

// stop ends the watches and both pumps.
func (c *Client) stop() {
	c.once.Do(func() {
		close(c.done)
		c.mu.Lock()
		for k, cancel := range c.watches {
			cancel()
			delete(c.watches, k)
		}
		c.mu.Unlock()
		c.conn.Close()
	})
}

// enqueue hands data to the write pump. It drops when the client is slow.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn("Send buffer full, dropping message")
		return false
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.stop()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.processMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("Failed to write message", "error", err)
				c.stop()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.stop()
				return
			}
		}
	}
}

func (c *Client) processMessage(message []byte) {
	var env streaming.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		c.logger.Warn("Failed to parse message", "error", err)
		return
	}

	switch env.Type {
	case streaming.TypeWatchPoses:
		c.watchPoses(env.Space)
	case streaming.TypeWatchFrames:
		c.watchFrames(env.Space)
	case streaming.TypeUnwatch:
		var p streaming.UnwatchPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			c.logger.Warn("Bad unwatch payload", "error", err)
			return
		}
		c.unwatch(watchKey{stream: p.Stream, space: env.Space})
	default:
		if c.hub.dispatcher == nil || !c.hub.dispatcher.HasHandler(env.Type) {
			c.logger.Warn("Unknown message type", "type", env.Type)
			c.ack(env.ID, "unknown message type: "+env.Type)
			return
		}
		_, err := c.hub.dispatcher.Dispatch(dispatcher.Event{
			Command:   env.Type,
			ID:        env.ID,
			Space:     env.Space,
			Session:   c.session,
			Claims:    c.claims,
			Payload:   env.Payload,
			Timestamp: time.Now(),
		})
		if err != nil {
			c.ack(env.ID, err.Error())
			return
		}
		c.ack(env.ID, "")
	}
}

// ack answers requests that carry an id. Fire-and-forget writes carry none.
func (c *Client) ack(id, errMsg string) {
	if id == "" {
		return
	}
	data, err := json.Marshal(streaming.AckMessage{Type: streaming.TypeAck, For: id, Error: errMsg})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// startWatch registers key and returns its context, or false when the
// client already watches it.
func (c *Client) startWatch(key watchKey) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return nil, false
	default:
	}
	if _, ok := c.watches[key]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watches[key] = cancel
	return ctx, true
}

func (c *Client) unwatch(key watchKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.watches[key]; ok {
		cancel()
		delete(c.watches, key)
	}
}

func (c *Client) watchPoses(space string) {
	key := watchKey{stream: streaming.TypeWatchPoses, space: space}
	ctx, ok := c.startWatch(key)
	if !ok {
		return
	}
	sub, err := c.hub.store.WatchPoses(ctx, space)
	if err != nil {
		c.logger.Warn("Watch poses failed", "space", space, "error", err)
		c.unwatch(key)
		return
	}
	go forward(c, sub, func(poses []core.ViewerPose) ([]byte, error) {
		return streaming.Marshal(streaming.TypePoseSnapshot, "", space, streaming.PoseSnapshotPayload{Poses: poses})
	})
}

func (c *Client) watchFrames(space string) {
	key := watchKey{stream: streaming.TypeWatchFrames, space: space}
	ctx, ok := c.startWatch(key)
	if !ok {
		return
	}
	sub, err := c.hub.store.WatchFrames(ctx, space)
	if err != nil {
		c.logger.Warn("Watch frames failed", "space", space, "error", err)
		c.unwatch(key)
		return
	}
	go forward(c, sub, func(frames map[string]core.FrameRecord) ([]byte, error) {
		return streaming.Marshal(streaming.TypeFrameSnapshot, "", space, streaming.FrameSnapshotPayload{Frames: frames})
	})
}

// forward pushes every snapshot of sub to the client until either ends.
func forward[T any](c *Client, sub *storage.Subscription[T], encode func(T) ([]byte, error)) {
	defer sub.Close()
	for {
		select {
		case v := <-sub.Updates():
			data, err := encode(v)
			if err != nil {
				c.logger.Error("Failed to encode snapshot", "error", err)
				continue
			}
			c.enqueue(data)
		case err := <-sub.Errors():
			c.logger.Warn("Subscription error", "error", err)
		case <-sub.Done():
			return
		case <-c.done:
			return
		}
	}
}
