package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConn struct {
	id     string
	userID string

	mu       sync.Mutex
	messages [][]byte
}

func (c *stubConn) ID() string     { return c.id }
func (c *stubConn) UserID() string { return c.userID }

func (c *stubConn) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return true
}

func (c *stubConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	for i, m := range c.messages {
		out[i] = string(m)
	}
	return out
}

func TestDeliver_ExcludesNamedConnectionOnly(t *testing.T) {
	registry := NewRegistry(8)
	origin := &stubConn{id: "c1", userID: "alice"}
	other := &stubConn{id: "c2", userID: "alice"}
	registry.Register(origin)
	registry.Register(other)

	registry.Deliver("alice", []byte("hello"), "c1")

	assert.Empty(t, origin.received(), "the originating connection is not echoed")
	assert.Equal(t, []string{"hello"}, other.received(), "the same user's other devices still receive")
}

func TestDeliver_OfflineBuffersAndFlushesInOrder(t *testing.T) {
	registry := NewRegistry(8)

	registry.Deliver("bob", []byte("first"), "")
	registry.Deliver("bob", []byte("second"), "")
	assert.Equal(t, 2, registry.PendingCount("bob"))

	conn := &stubConn{id: "c1", userID: "bob"}
	registry.Register(conn)

	assert.Equal(t, []string{"first", "second"}, conn.received())
	assert.Equal(t, 0, registry.PendingCount("bob"))

	// Live now; nothing buffers anymore.
	registry.Deliver("bob", []byte("third"), "")
	assert.Equal(t, 0, registry.PendingCount("bob"))
	assert.Equal(t, []string{"first", "second", "third"}, conn.received())
}

func TestDeliver_BufferBoundDropsOldest(t *testing.T) {
	registry := NewRegistry(3)
	for i := 0; i < 5; i++ {
		registry.Deliver("bob", []byte(fmt.Sprintf("m%d", i)), "")
	}
	assert.Equal(t, 3, registry.PendingCount("bob"))

	conn := &stubConn{id: "c1", userID: "bob"}
	registry.Register(conn)
	assert.Equal(t, []string{"m2", "m3", "m4"}, conn.received(), "oldest messages dropped first")
}

func TestUnregister_LastConnectionGoesOffline(t *testing.T) {
	registry := NewRegistry(8)
	conn := &stubConn{id: "c1", userID: "alice"}
	registry.Register(conn)
	require.True(t, registry.Online("alice"))

	registry.Unregister(conn)
	assert.False(t, registry.Online("alice"))

	registry.Deliver("alice", []byte("while away"), "")
	assert.Equal(t, 1, registry.PendingCount("alice"))
}
