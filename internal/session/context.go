package session

import (
	"log/slog"
	"sync"
)

// Context holds who is visiting which space in the running process.
// The logger reads it on every record.
type Context struct {
	mu        sync.RWMutex
	spaceID   string
	sessionID string
	userID    string
}

// NewContext creates a Context for a visitor session.
func NewContext(sessionID string) *Context {
	return &Context{sessionID: sessionID}
}

// SessionID returns the visitor session id.
func (c *Context) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// SpaceID returns the space currently being visited.
func (c *Context) SpaceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.spaceID
}

// UserID returns the signed-in user, or "" for anonymous visitors.
func (c *Context) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetSpace records the space being visited.
func (c *Context) SetSpace(spaceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spaceID = spaceID
}

// SetUser records the signed-in user.
func (c *Context) SetUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// Attrs returns the log attributes for the current state. Empty values are
// left out.
func (c *Context) Attrs() []slog.Attr {
	c.mu.RLock()
	defer c.mu.RUnlock()

	attrs := make([]slog.Attr, 0, 3)
	if c.spaceID != "" {
		attrs = append(attrs, slog.String("space", c.spaceID))
	}
	if c.sessionID != "" {
		attrs = append(attrs, slog.String("session", c.sessionID))
	}
	if c.userID != "" {
		attrs = append(attrs, slog.String("user", c.userID))
	}
	return attrs
}
