// Package realtime fans atome mutations and share notifications out to
// connected clients over websockets.
package realtime

import (
	"sync"
)

// Connection is one client socket. Send must not block the router; the
// websocket implementation buffers writes behind a channel.
type Connection interface {
	ID() string
	UserID() string
	Send(message []byte) bool
}

// Registry tracks live connections per user and buffers messages for
// users that are offline. Buffers are bounded; when full the oldest
// message is dropped.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[string]Connection
	pending     map[string][][]byte
	pendingCap  int
}

func NewRegistry(pendingCap int) *Registry {
	if pendingCap <= 0 {
		pendingCap = 64
	}
	return &Registry{
		connections: map[string]map[string]Connection{},
		pending:     map[string][][]byte{},
		pendingCap:  pendingCap,
	}
}

// Register attaches the connection and flushes any buffered messages to
// it in arrival order.
func (r *Registry) Register(conn Connection) {
	r.mu.Lock()
	userID := conn.UserID()
	if r.connections[userID] == nil {
		r.connections[userID] = map[string]Connection{}
	}
	r.connections[userID][conn.ID()] = conn
	buffered := r.pending[userID]
	delete(r.pending, userID)
	r.mu.Unlock()

	for _, message := range buffered {
		conn.Send(message)
	}
}

// Unregister detaches the connection.
func (r *Registry) Unregister(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID := conn.UserID()
	if conns := r.connections[userID]; conns != nil {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.connections, userID)
		}
	}
}

// Deliver sends message to every live connection of userID except the one
// named by excludeConnID. With no live connection the message is buffered.
func (r *Registry) Deliver(userID string, message []byte, excludeConnID string) {
	r.mu.RLock()
	conns := make([]Connection, 0, len(r.connections[userID]))
	for id, conn := range r.connections[userID] {
		if id == excludeConnID {
			continue
		}
		conns = append(conns, conn)
	}
	live := len(r.connections[userID]) > 0
	r.mu.RUnlock()

	if !live {
		r.buffer(userID, message)
		return
	}
	for _, conn := range conns {
		conn.Send(message)
	}
}

// Online reports whether userID has at least one live connection.
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}

// PendingCount reports the buffered message count for userID.
func (r *Registry) PendingCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pending[userID])
}

func (r *Registry) buffer(userID string, message []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queue := r.pending[userID]
	if len(queue) >= r.pendingCap {
		queue = queue[1:]
	}
	r.pending[userID] = append(queue, message)
}
