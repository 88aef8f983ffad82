// Package gateway terminates client WebSocket connections, runs the auth
// handshake and dispatches game frames to room actors. One Connection per
// socket; the player binding is established by the first auth frame.
package gateway

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hokm-lite/internal/auth"
	"hokm-lite/internal/codec"
	"hokm-lite/internal/hybrid"
	"hokm-lite/internal/room"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Config carries the gateway policy knobs.
type Config struct {
	// SessionTTL bounds how long a session document lives in the hot store
	// without a heartbeat.
	SessionTTL time.Duration
	ReadLimit  int64
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * time.Minute
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 65536
	}
	return c
}

// Connection represents one WebSocket client connection.
type Connection struct {
	ID       string
	PlayerID string // empty until the auth handshake completes
	Username string
	Conn     *websocket.Conn
	Send     chan []byte
	Gateway  *Gateway
	LastPing time.Time

	// Current room association.
	RoomCode string
	Room     *room.Room
}

// Gateway manages WebSocket connections and the playerID -> connection map
// that room broadcasts resolve through.
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*Connection
	playerConns map[string]*Connection // playerID -> connection
	nextConnID  uint64

	cfg   Config
	auth  auth.Service
	rooms *room.Registry
	data  *hybrid.Layer
}

// New creates a Gateway. The room registry is wired afterwards via
// SetRegistry because the registry needs the gateway's send function first.
func New(cfg Config, authSvc auth.Service, data *hybrid.Layer) *Gateway {
	return &Gateway{
		connections: make(map[string]*Connection),
		playerConns: make(map[string]*Connection),
		cfg:         cfg.withDefaults(),
		auth:        authSvc,
		data:        data,
	}
}

// SetRegistry binds the room registry. Must be called before serving.
func (g *Gateway) SetRegistry(rooms *room.Registry) { g.rooms = rooms }

// Send delivers a frame to a player's live connection; frames for offline
// players are dropped, the room's private snapshot covers them on rejoin.
func (g *Gateway) Send(playerID string, data []byte) {
	g.mu.RLock()
	c := g.playerConns[playerID]
	g.mu.RUnlock()

	if c != nil {
		select {
		case c.Send <- data:
		default:
			// Drop if buffer full
		}
	}
}

// HandleWebSocket handles WebSocket upgrade and connection.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Gateway] Upgrade error: %v", err)
		return
	}

	g.mu.Lock()
	g.nextConnID++
	connID := fmt.Sprintf("conn_%d", g.nextConnID)
	c := &Connection{
		ID:       connID,
		Conn:     conn,
		Send:     make(chan []byte, 256),
		Gateway:  g,
		LastPing: time.Now(),
	}
	g.connections[connID] = c
	total := len(g.connections)
	g.mu.Unlock()

	log.Printf("[Gateway] Client connected: %s, total: %d", connID, total)

	go c.readPump()
	go c.writePump()
}

func (c *Connection) readPump() {
	defer func() {
		c.Gateway.removeConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Gateway.cfg.ReadLimit)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		c.LastPing = time.Now()
		return nil
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[Gateway] Read error: %v", err)
			}
			break
		}

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			c.handleFrame(message)
		}
	}
}

func (c *Connection) handleFrame(raw []byte) {
	frame, err := codec.DecodeClientFrame(raw)
	if err != nil {
		c.sendError(codec.CodeInternalError, "invalid frame")
		return
	}
	if err := frame.Validate(); err != nil {
		c.sendError(codec.CodeInternalError, err.Error())
		return
	}

	// The proxy's health probe and client keepalives share the heartbeat
	// frame; it is valid before auth.
	if frame.Type == codec.TypeHeartbeat {
		c.handleHeartbeat()
		return
	}

	if c.PlayerID == "" {
		switch frame.Type {
		case codec.TypeAuth:
			c.handleAuth(frame.Username, frame.Password)
		case codec.TypeAuthToken:
			c.handleAuthToken(frame.Token)
		default:
			c.sendError(codec.CodeSessionExpired, "authenticate first")
		}
		return
	}

	switch frame.Type {
	case codec.TypeAuth, codec.TypeAuthToken:
		c.sendError(codec.CodeInternalError, "already authenticated")
	case codec.TypeJoin:
		c.handleJoin(frame.RoomCode)
	case codec.TypeRejoin:
		c.handleRejoin(frame.RoomCode)
	case codec.TypeLeave:
		c.handleRoomEvent(room.Event{Type: room.EventLeave, PlayerID: c.PlayerID})
	case codec.TypeHokmSelected:
		c.handleRoomEvent(room.Event{Type: room.EventSelectHokm, PlayerID: c.PlayerID, Suit: frame.Suit})
	case codec.TypePlayCard:
		c.handleRoomEvent(room.Event{Type: room.EventPlayCard, PlayerID: c.PlayerID, Card: frame.Card})
	case codec.TypeChat:
		c.handleRoomEvent(room.Event{Type: room.EventChat, PlayerID: c.PlayerID, Text: frame.Text})
	default:
		c.sendError(codec.CodeInternalError, "unknown frame type: "+frame.Type)
	}
}

func (c *Connection) handleAuth(username, password string) {
	playerID, token, err := c.Gateway.auth.Authenticate(username, password)
	if err != nil {
		c.sendFrame(codec.NewAuthFailed(err.Error()))
		return
	}
	c.bindPlayer(playerID, username)
	c.sendFrame(codec.NewAuthSuccess(playerID, token))
}

func (c *Connection) handleAuthToken(token string) {
	playerID, username, ok := c.Gateway.auth.ResolveSession(token)
	if !ok {
		c.sendFrame(codec.NewAuthFailed("invalid or expired token"))
		return
	}
	c.bindPlayer(playerID, username)
	c.sendFrame(codec.NewAuthSuccess(playerID, token))
}

// bindPlayer attaches the authenticated identity. A newer connection for the
// same player evicts the stale one: its socket is closed and the pumps exit
// on their own. Send stays open so in-flight senders never panic.
func (c *Connection) bindPlayer(playerID, username string) {
	g := c.Gateway
	g.mu.Lock()
	prev := g.playerConns[playerID]
	c.PlayerID = playerID
	c.Username = username
	g.playerConns[playerID] = c
	g.mu.Unlock()

	if prev != nil && prev != c {
		log.Printf("[Gateway] Evicting stale connection %s for %s", prev.ID, playerID)
		prev.Conn.Close()
	}

	g.touchSession(c, statusActive)
	log.Printf("[Gateway] %s authenticated as %s (%s)", c.ID, username, playerID)
}

func (c *Connection) handleJoin(roomCode string) {
	if c.Gateway.rooms == nil {
		c.sendError(codec.CodeInternalError, "no room registry")
		return
	}
	r, err := c.Gateway.rooms.GetOrCreate(roomCode)
	if err != nil {
		c.sendError(codec.CodeInternalError, err.Error())
		return
	}
	if err := r.SubmitEvent(room.Event{Type: room.EventJoin, PlayerID: c.PlayerID, DisplayName: c.Username}); err != nil {
		c.sendError(room.CodeForError(err), err.Error())
		return
	}
	c.RoomCode = r.Code
	c.Room = r
	c.Gateway.touchSession(c, statusActive)
	log.Printf("[Gateway] Player %s joined room %s", c.PlayerID, r.Code)
}

func (c *Connection) handleRejoin(roomCode string) {
	if c.Gateway.rooms == nil {
		c.sendError(codec.CodeInternalError, "no room registry")
		return
	}
	r, ok := c.Gateway.rooms.Get(roomCode)
	if !ok {
		// The room may only live in the hot store after a restart.
		var err error
		r, err = c.Gateway.rooms.GetOrCreate(roomCode)
		if err != nil {
			c.sendError(codec.CodeSessionExpired, "room not found")
			return
		}
	}
	if err := r.SubmitEvent(room.Event{Type: room.EventRejoin, PlayerID: c.PlayerID}); err != nil {
		c.sendError(room.CodeForError(err), err.Error())
		return
	}
	c.RoomCode = r.Code
	c.Room = r
	c.Gateway.touchSession(c, statusActive)
}

func (c *Connection) handleRoomEvent(e room.Event) {
	if c.Room == nil {
		c.sendError(codec.CodeInternalError, "not in a room")
		return
	}
	if err := c.Room.SubmitEvent(e); err != nil {
		c.sendError(room.CodeForError(err), err.Error())
	}
}

// handleHeartbeat echoes the frame (the proxy's health probe measures this
// round trip) and slides the session TTL.
func (c *Connection) handleHeartbeat() {
	c.LastPing = time.Now()
	if c.PlayerID != "" {
		c.Gateway.touchSession(c, statusActive)
	}
	c.sendFrame(codec.NewHeartbeat())
}

func (c *Connection) sendError(code, msg string) {
	c.sendFrame(codec.NewError(code, msg))
}

func (c *Connection) sendFrame(frame any) {
	data, err := codec.Encode(frame)
	if err != nil {
		log.Printf("[Gateway] encode %T: %v", frame, err)
		return
	}
	select {
	case c.Send <- data:
	default:
		// Drop if buffer full
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (g *Gateway) removeConnection(c *Connection) {
	g.mu.Lock()
	delete(g.connections, c.ID)
	stale := false
	if c.PlayerID != "" {
		if g.playerConns[c.PlayerID] == c {
			delete(g.playerConns, c.PlayerID)
		} else {
			// The player already authenticated on a newer socket; this
			// teardown must not touch their presence.
			stale = true
		}
	}
	total := len(g.connections)
	g.mu.Unlock()

	if !stale {
		// The room keeps the seat through the grace window; the session doc
		// flips to disconnected so rejoin can find it.
		if c.Room != nil {
			if err := c.Room.SubmitEvent(room.Event{Type: room.EventLeave, PlayerID: c.PlayerID}); err != nil {
				log.Printf("[Gateway] leave on disconnect for %s: %v", c.PlayerID, err)
			}
		}
		if c.PlayerID != "" {
			g.touchSession(c, statusDisconnected)
		}
	}
	log.Printf("[Gateway] Client disconnected: %s, total: %d", c.ID, total)
}

// ConnectionCount reports live sockets.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}

// Close drops every connection.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*Connection, 0, len(g.connections))
	for _, c := range g.connections {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.Conn.Close()
	}
}
