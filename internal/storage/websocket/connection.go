package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/watashi-museum/museum/pkg/streaming"
)

const (
	sendChSize   = 1_024
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
// Acks are routed to waiters by request id; every other envelope goes to
// onMessage.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan []byte
	pending map[string]chan streaming.AckMessage
	done    chan struct{} // closed on shutdown
	closed  bool

	wsURL   string
	session string
	token   string

	// onMessage receives non-ack envelopes from the read loop.
	onMessage func(streaming.Envelope)
	// replay returns the messages to resend after a reconnect.
	replay func() [][]byte

	initialBackoff time.Duration
	logger         *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:         make(chan []byte, sendChSize),
		pending:        make(map[string]chan streaming.AckMessage),
		done:           make(chan struct{}),
		onMessage:      func(streaming.Envelope) {},
		replay:         func() [][]byte { return nil },
		initialBackoff: time.Second,
		logger:         logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, session, token string) error {
	c.wsURL = rawURL
	c.session = session
	c.token = token

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(conn)
	go c.readLoop(conn)

	return nil
}

// dialOnce performs a single WebSocket dial with the session and token
// query params.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("session", c.session)
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// writeLoop drains sendCh and writes messages to conn.
// It returns on error, shutdown or when conn has been replaced.
func (c *connection) writeLoop(conn *ws.Conn) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()

			if current != conn {
				// Reconnected meanwhile: hand the message to the new loop.
				c.send(data)
				return
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				go c.reconnect(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				go c.reconnect(conn)
				return
			}
		}
	}
}

// readLoop reads envelopes from conn, routing acks to their waiters.
func (c *connection) readLoop(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			go c.reconnect(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Malformed message received", "raw", string(message))
			continue
		}

		if env.Type == streaming.TypeAck {
			var ack streaming.AckMessage
			if err := json.Unmarshal(message, &ack); err != nil {
				continue
			}
			c.deliverAck(ack)
			continue
		}

		c.onMessage(env)
	}
}

func (c *connection) deliverAck(ack streaming.AckMessage) {
	c.mu.Lock()
	ch, ok := c.pending[ack.For]
	delete(c.pending, ack.For)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("Ack for unknown request", "for", ack.For)
		return
	}
	ch <- ack
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. stale is the connection that failed; a second caller
// for the same failure returns immediately. On success it replays the
// active watches and restarts the read/write loops.
func (c *connection) reconnect(stale *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != stale {
		c.mu.Unlock()
		return
	}
	_ = c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	backoff := c.initialBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// Replay watches so the server resumes pushing snapshots.
		replayed := true
		for _, msg := range c.replay() {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				replayed = false
				break
			}
			if err := conn.WriteMessage(ws.TextMessage, msg); err != nil {
				replayed = false
				break
			}
		}
		if !replayed {
			c.logger.Warn("Failed to replay watches after reconnect")
			_ = conn.Close()
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.conn = conn
		c.mu.Unlock()

		c.logger.Info("WebSocket reconnected", "attempt", attempt)
		go c.writeLoop(conn)
		go c.readLoop(conn)
		return
	}

	c.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("WebSocket send channel full, dropping message")
		return false
	}
}

// sendAndWait sends data and blocks until the server acknowledges request
// id or the timeout expires. A non-empty ack error is returned as an error.
func (c *connection) sendAndWait(data []byte, id string, timeout time.Duration) error {
	ch := make(chan streaming.AckMessage, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if !c.send(data) {
		return fmt.Errorf("send queue full for request %s", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return &AckError{Message: ack.Error}
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("timeout waiting for ack of request %s", id)
	case <-c.done:
		return fmt.Errorf("connection closed while waiting for ack of request %s", id)
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
