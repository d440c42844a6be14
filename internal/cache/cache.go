package cache

import (
	"sort"
	"sync"
	"time"
)

// VisitorCache tracks when each session last wrote a pose, per space.
// The server keeps it next to the store so presence counts need no store
// reads.
type VisitorCache struct {
	m      sync.Mutex
	Spaces map[string]map[string]time.Time // space -> session -> last seen
}

func NewVisitorCache() *VisitorCache {
	return &VisitorCache{
		m:      sync.Mutex{},
		Spaces: make(map[string]map[string]time.Time),
	}
}

func (c *VisitorCache) Reset() {
	c.m.Lock()
	defer c.m.Unlock()
	c.Spaces = make(map[string]map[string]time.Time)
}

// Touch records a write of session in space at t.
func (c *VisitorCache) Touch(space, session string, t time.Time) {
	c.m.Lock()
	defer c.m.Unlock()
	if c.Spaces[space] == nil {
		c.Spaces[space] = make(map[string]time.Time)
	}
	c.Spaces[space][session] = t
}

func (c *VisitorCache) LastSeen(space, session string) (time.Time, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	if t, ok := c.Spaces[space][session]; ok {
		return t, true
	}
	return time.Time{}, false
}

// Counts returns the number of sessions seen within window of now, per
// space. Spaces without fresh sessions are omitted.
func (c *VisitorCache) Counts(now time.Time, window time.Duration) map[string]int {
	c.m.Lock()
	defer c.m.Unlock()
	out := make(map[string]int)
	for space, sessions := range c.Spaces {
		for _, seen := range sessions {
			if now.Sub(seen) < window {
				out[space]++
			}
		}
	}
	return out
}

// Forget drops sessions last seen before cutoff and returns how many.
func (c *VisitorCache) Forget(cutoff time.Time) int {
	c.m.Lock()
	defer c.m.Unlock()
	n := 0
	for space, sessions := range c.Spaces {
		for id, seen := range sessions {
			if seen.Before(cutoff) {
				delete(sessions, id)
				n++
			}
		}
		if len(sessions) == 0 {
			delete(c.Spaces, space)
		}
	}
	return n
}

// SpaceIDs returns the tracked spaces, sorted.
func (c *VisitorCache) SpaceIDs() []string {
	c.m.Lock()
	defer c.m.Unlock()
	out := make([]string, 0, len(c.Spaces))
	for id := range c.Spaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
