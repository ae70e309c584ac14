package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const sendBuffer = 256

// Conn is one authenticated realtime connection. Frames queued on Send are written by
// the transport's write pump; Send is closed when the connection is unregistered.
type Conn struct {
	ID     string
	UserID uuid.UUID
	Send   chan []byte

	rooms map[uuid.UUID]struct{}
}

func NewConn(userID uuid.UUID) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		Send:   make(chan []byte, sendBuffer),
		rooms:  make(map[uuid.UUID]struct{}),
	}
}

// Gateway tracks live connections and the conversation rooms they joined. It is
// constructed once in main and injected into whatever needs to broadcast.
type Gateway struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
	rooms map[uuid.UUID]map[*Conn]struct{}
	log   *zap.Logger
}

func NewGateway(log *zap.Logger) *Gateway {
	return &Gateway{
		conns: make(map[*Conn]struct{}),
		rooms: make(map[uuid.UUID]map[*Conn]struct{}),
		log:   log,
	}
}

func (g *Gateway) Register(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c] = struct{}{}
	g.log.Debug("ws connected", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister drops the connection from every room and closes its Send channel.
// Calling it twice is a no-op.
func (g *Gateway) Unregister(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[c]; !ok {
		return
	}
	for room := range c.rooms {
		g.removeFromRoom(c, room)
	}
	delete(g.conns, c)
	close(c.Send)
	g.log.Debug("ws disconnected", zap.String("conn_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Join adds c to the room of conversationID. Membership is not checked here; every
// operation on the conversation checks it instead.
func (g *Gateway) Join(c *Conn, conversationID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[c]; !ok {
		return
	}
	if _, ok := g.rooms[conversationID]; !ok {
		g.rooms[conversationID] = make(map[*Conn]struct{})
	}
	g.rooms[conversationID][c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
}

func (g *Gateway) Leave(c *Conn, conversationID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removeFromRoom(c, conversationID)
}

func (g *Gateway) removeFromRoom(c *Conn, conversationID uuid.UUID) {
	delete(c.rooms, conversationID)
	if set, ok := g.rooms[conversationID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(g.rooms, conversationID)
		}
	}
}

// Broadcast queues the event on every connection in the room, the sender's included.
// Slow connections whose buffer is full miss the frame. Returns how many were queued.
func (g *Gateway) Broadcast(conversationID uuid.UUID, event string, payload any) int {
	frame, err := Encode(event, payload)
	if err != nil {
		g.log.Error("encode broadcast", zap.String("event", event), zap.Error(err))
		return 0
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	sent := 0
	for c := range g.rooms[conversationID] {
		if g.offer(c, frame) {
			sent++
		}
	}
	return sent
}

// SendTo queues the event on a single connection.
func (g *Gateway) SendTo(c *Conn, event string, payload any) bool {
	frame, err := Encode(event, payload)
	if err != nil {
		g.log.Error("encode frame", zap.String("event", event), zap.Error(err))
		return false
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.conns[c]; !ok {
		return false
	}
	return g.offer(c, frame)
}

// Connections returns the number of live connections.
func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *Gateway) RoomSize(conversationID uuid.UUID) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms[conversationID])
}

func (g *Gateway) offer(c *Conn, frame []byte) bool {
	select {
	case c.Send <- frame:
		return true
	default:
		g.log.Warn("ws send buffer full, frame dropped", zap.String("conn_id", c.ID))
		return false
	}
}
