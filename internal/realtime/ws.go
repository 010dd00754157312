package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"atome-store/internal/atome"
	"atome-store/internal/share"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 64
)

type wsConn struct {
	id     string
	userID string
	socket *websocket.Conn
	send   chan []byte

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) ID() string     { return c.id }
func (c *wsConn) UserID() string { return c.userID }

// Send queues the message. A full buffer drops the message instead of
// blocking the router; the client resyncs on reconnect.
func (c *wsConn) Send(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *wsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Handler upgrades authenticated requests to websockets and pumps
// messages between the client and the orchestrator.
type Handler struct {
	registry *Registry
	protocol *share.Protocol
	service  *atome.Service
	upgrader websocket.Upgrader
}

func NewHandler(registry *Registry, protocol *share.Protocol, service *atome.Service) *Handler {
	return &Handler{
		registry: registry,
		protocol: protocol,
		service:  service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Serve is the gin endpoint. The auth middleware must have resolved
// user_id before this runs.
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	conn := &wsConn{
		id:     uuid.NewString(),
		userID: userID,
		socket: socket,
		send:   make(chan []byte, sendBuffer),
	}
	h.registry.Register(conn)
	log.Printf("[WS] %s connected (%s)", userID, conn.id)

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *Handler) readPump(conn *wsConn) {
	defer func() {
		h.registry.Unregister(conn)
		conn.socket.Close()
		conn.shutdown()
		log.Printf("[WS] %s disconnected (%s)", conn.userID, conn.id)
	}()

	conn.socket.SetReadLimit(maxMessageSize)
	conn.socket.SetReadDeadline(time.Now().Add(pongWait))
	conn.socket.SetPongHandler(func(string) error {
		conn.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := conn.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error on %s: %v", conn.id, err)
			}
			return
		}
		reply := h.handleMessage(conn, raw)
		if reply != nil {
			conn.Send(reply)
		}
	}
}

func (h *Handler) writePump(conn *wsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.socket.Close()
	}()

	for {
		select {
		case message, ok := <-conn.send:
			conn.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.socket.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// clientMessage is the inbound envelope. Atome operations are handled
// here; everything else falls through to the share protocol.
type clientMessage struct {
	Action    string         `json:"action"`
	RequestID string         `json:"requestId"`
	AtomeID   string         `json:"atomeId"`
	AtomeType string         `json:"atomeType"`
	ParentID  string         `json:"parentId"`
	Particles map[string]any `json:"particles"`
}

func (h *Handler) handleMessage(conn *wsConn, raw []byte) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ctx = atome.WithOrigin(ctx, conn.id)

	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return encodeWSReply(share.Reply{Success: false, Error: "malformed message"})
	}

	switch msg.Action {
	case "atome:create":
		result, err := h.service.Create(ctx, conn.userID, atome.CreateInput{
			ID:        msg.AtomeID,
			Type:      msg.AtomeType,
			ParentID:  msg.ParentID,
			Particles: msg.Particles,
		})
		return wsReply(msg.RequestID, result, err)

	case "atome:alter":
		result, err := h.service.Alter(ctx, conn.userID, msg.AtomeID, msg.Particles)
		return wsReply(msg.RequestID, result, err)

	case "atome:patch":
		updated, err := h.service.RealtimePatch(ctx, conn.userID, msg.AtomeID, msg.Particles)
		return wsReply(msg.RequestID, updated, err)

	case "atome:delete":
		result, err := h.service.Delete(ctx, conn.userID, msg.AtomeID)
		return wsReply(msg.RequestID, result, err)

	default:
		return h.protocol.Handle(ctx, conn.userID, raw)
	}
}

func wsReply(requestID string, data any, err error) []byte {
	reply := share.Reply{RequestID: requestID, Success: err == nil, Data: data}
	if err != nil {
		reply.Error = err.Error()
	}
	return encodeWSReply(reply)
}

func encodeWSReply(reply share.Reply) []byte {
	raw, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"success":false,"error":"encode failed"}`)
	}
	return raw
}
