// Package proxy is the public edge in front of the game servers. It pins
// each client to one backend, forwards frames both ways, health-checks the
// backends and migrates live connections when a backend dies.
package proxy

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hokm-lite/internal/codec"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // TODO: Restrict in production
	},
}

// Config carries the proxy policy knobs.
type Config struct {
	HealthInterval  time.Duration
	ProbeTimeout    time.Duration
	FailoverAfter   int
	MigrationLimit  int
	MigrationWindow time.Duration
	MigrationMinGap time.Duration
	DialTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 2 * time.Second
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.FailoverAfter <= 0 {
		c.FailoverAfter = 1
	}
	if c.MigrationLimit <= 0 {
		c.MigrationLimit = 3
	}
	if c.MigrationWindow <= 0 {
		c.MigrationWindow = time.Minute
	}
	if c.MigrationMinGap <= 0 {
		c.MigrationMinGap = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	return c
}

// Proxy multiplexes clients across the ordered backend list.
type Proxy struct {
	cfg      Config
	backends []*Backend
	checker  *HealthChecker

	mu       sync.RWMutex
	sessions map[uint64]*session
	nextID   uint64
}

func New(cfg Config, backends []*Backend) *Proxy {
	cfg = cfg.withDefaults()
	p := &Proxy{
		cfg:      cfg,
		backends: backends,
		sessions: make(map[uint64]*session),
	}
	p.checker = NewHealthChecker(backends, cfg.HealthInterval, cfg.ProbeTimeout, cfg.FailoverAfter, p.onBackendDown)
	return p
}

// Start launches the health checker.
func (p *Proxy) Start() { p.checker.Start() }

// Close stops health checking and drops every session.
func (p *Proxy) Close() {
	p.checker.Stop()

	p.mu.Lock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// SessionCount reports live proxied clients.
func (p *Proxy) SessionCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// HandleClient upgrades an incoming client socket and binds it to the first
// usable backend.
func (p *Proxy) HandleClient(w http.ResponseWriter, r *http.Request) {
	backend, ok := SelectBackend(p.backends)
	if !ok {
		http.Error(w, "no backend available", http.StatusServiceUnavailable)
		return
	}

	client, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Proxy] Upgrade error: %v", err)
		return
	}

	upstream, err := p.dialBackend(backend)
	if err != nil {
		log.Printf("[Proxy] Dial %s: %v", backend.Name, err)
		client.Close()
		return
	}

	p.mu.Lock()
	p.nextID++
	s := &session{
		id:       p.nextID,
		proxy:    p,
		client:   client,
		upstream: upstream,
		backend:  backend,
		limiter:  newMigrationLimiter(p.cfg.MigrationLimit, p.cfg.MigrationWindow, p.cfg.MigrationMinGap),
	}
	p.sessions[s.id] = s
	total := len(p.sessions)
	p.mu.Unlock()

	log.Printf("[Proxy] Session %d -> %s, total: %d", s.id, backend.Name, total)

	go s.clientLoop()
	go s.upstreamLoop(upstream, 0)
}

func (p *Proxy) dialBackend(b *Backend) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: p.cfg.DialTimeout}
	conn, _, err := dialer.Dial(b.URL, nil)
	return conn, err
}

// onBackendDown migrates every session pinned to the dead backend.
func (p *Proxy) onBackendDown(b *Backend) {
	type target struct {
		s     *session
		epoch int
	}
	p.mu.RLock()
	var affected []target
	for _, s := range p.sessions {
		s.mu.Lock()
		if s.backend == b && !s.closed {
			affected = append(affected, target{s, s.epoch})
		}
		s.mu.Unlock()
	}
	p.mu.RUnlock()

	log.Printf("[Proxy] Migrating %d session(s) off %s", len(affected), b.Name)
	for _, t := range affected {
		go t.s.migrate(t.epoch, fmt.Sprintf("backend %s unhealthy", b.Name))
	}
}

func (p *Proxy) removeSession(s *session) {
	p.mu.Lock()
	delete(p.sessions, s.id)
	total := len(p.sessions)
	p.mu.Unlock()
	log.Printf("[Proxy] Session %d closed, total: %d", s.id, total)
}

// session is one proxied client with its current upstream binding.
type session struct {
	id      uint64
	proxy   *Proxy
	client  *websocket.Conn
	limiter *migrationLimiter

	// cwmu serializes writes to the client socket (forwarding loop vs
	// migration frames).
	cwmu sync.Mutex

	mu        sync.Mutex
	upstream  *websocket.Conn
	backend   *Backend
	epoch     int
	roomCode  string
	closed    bool
	migrating bool
}

func (s *session) currentBackend() *Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *session) currentUpstream() (*websocket.Conn, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream, s.epoch
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	upstream := s.upstream
	s.mu.Unlock()

	s.client.Close()
	if upstream != nil {
		upstream.Close()
	}
	s.proxy.removeSession(s)
}

// clientLoop forwards client frames to the current upstream and remembers
// the last room the client asked for, for the migration hint.
func (s *session) clientLoop() {
	defer s.close()

	for {
		messageType, message, err := s.client.ReadMessage()
		if err != nil {
			return
		}
		s.sniffRoomCode(message)

		upstream, _ := s.currentUpstream()
		if upstream == nil {
			return
		}
		upstream.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := upstream.WriteMessage(messageType, message); err != nil {
			// The upstream loop notices the same failure and migrates;
			// this frame is lost, the client retries after the
			// server_migration frame.
			log.Printf("[Proxy] Session %d upstream write: %v", s.id, err)
		}
	}
}

// upstreamLoop forwards backend frames to the client. When the upstream
// dies underneath a live client the session migrates instead of closing.
func (s *session) upstreamLoop(upstream *websocket.Conn, epoch int) {
	for {
		messageType, message, err := upstream.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.migrate(epoch, "upstream connection lost")
			return
		}
		s.writeClient(messageType, message)
	}
}

func (s *session) writeClient(messageType int, message []byte) {
	s.cwmu.Lock()
	defer s.cwmu.Unlock()
	s.client.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.client.WriteMessage(messageType, message); err != nil {
		go s.close()
	}
}

// migrate rebinds the session to the first usable backend. fromEpoch pins
// the failure that triggered it: if the session was already rewired (or a
// migration is in flight) the call is a no-op, so a dying backend produces
// exactly one server_migration frame however many paths notice it. Exceeding
// the rate limit is fatal for the connection.
func (s *session) migrate(fromEpoch int, reason string) {
	s.mu.Lock()
	if s.closed || s.epoch != fromEpoch || s.migrating {
		s.mu.Unlock()
		return
	}
	s.migrating = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.migrating = false
		s.mu.Unlock()
	}()

	if !s.limiter.allow(time.Now()) {
		log.Printf("[Proxy] Session %d exceeded migration limit, dropping", s.id)
		s.sendClientFrame(codec.NewError(codec.CodeInternalError, "migration limit exceeded"))
		s.close()
		return
	}

	current := s.currentBackend()
	var target *Backend
	for _, b := range s.proxy.backends {
		if b != current && b.Usable() {
			target = b
			break
		}
	}
	if target == nil {
		// Last resort: the current backend may have recovered.
		if b, ok := SelectBackend(s.proxy.backends); ok {
			target = b
		}
	}
	if target == nil {
		log.Printf("[Proxy] Session %d has no backend to migrate to", s.id)
		s.sendClientFrame(codec.NewError(codec.CodeInternalError, "no backend available"))
		s.close()
		return
	}

	upstream, err := s.proxy.dialBackend(target)
	if err != nil {
		log.Printf("[Proxy] Session %d migration dial %s: %v", s.id, target.Name, err)
		s.sendClientFrame(codec.NewError(codec.CodeInternalError, "migration failed"))
		s.close()
		return
	}

	s.mu.Lock()
	old := s.upstream
	s.upstream = upstream
	s.backend = target
	s.epoch++
	epoch := s.epoch
	roomCode := s.roomCode
	s.mu.Unlock()

	s.sendClientFrame(codec.NewServerMigration(target.Name, roomCode))
	go s.upstreamLoop(upstream, epoch)
	if old != nil {
		old.Close()
	}
	log.Printf("[Proxy] Session %d migrated to %s (%s)", s.id, target.Name, reason)
}

func (s *session) sendClientFrame(frame any) {
	data, err := codec.Encode(frame)
	if err != nil {
		return
	}
	s.writeClient(websocket.TextMessage, data)
}

// sniffRoomCode peeks at join/rejoin frames so a later migration can hand
// the client its room back.
func (s *session) sniffRoomCode(message []byte) {
	var f struct {
		Type     string `json:"type"`
		RoomCode string `json:"room_code"`
	}
	if err := json.Unmarshal(message, &f); err != nil {
		return
	}
	if (f.Type == codec.TypeJoin || f.Type == codec.TypeRejoin) && f.RoomCode != "" {
		s.mu.Lock()
		s.roomCode = f.RoomCode
		s.mu.Unlock()
	}
}
