package session

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Defaults(t *testing.T) {
	ctx := NewContext("abcd1234")

	assert.Equal(t, "abcd1234", ctx.SessionID())
	assert.Empty(t, ctx.SpaceID())
	assert.Empty(t, ctx.UserID())
	assert.Equal(t, []slog.Attr{slog.String("session", "abcd1234")}, ctx.Attrs())
}

func TestContext_Attrs(t *testing.T) {
	ctx := NewContext("s1")
	ctx.SetSpace("alice")
	ctx.SetUser("alice")

	assert.Equal(t, []slog.Attr{
		slog.String("space", "alice"),
		slog.String("session", "s1"),
		slog.String("user", "alice"),
	}, ctx.Attrs())
}

func TestContext_ThreadSafe(t *testing.T) {
	ctx := NewContext("s1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx.SetSpace("bob")
		}()
		go func() {
			defer wg.Done()
			_ = ctx.Attrs()
		}()
	}
	wg.Wait()

	assert.Equal(t, "bob", ctx.SpaceID())
}
