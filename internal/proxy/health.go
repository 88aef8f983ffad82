package proxy

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hokm-lite/internal/codec"
)

// Status of one backend as seen by the health checker.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Backend is one upstream game server. Backends are ordered; the first
// usable one wins selection.
type Backend struct {
	Name string
	URL  string // ws:// endpoint

	mu       sync.Mutex
	status   Status
	failures int
	lastSeen time.Time
}

func NewBackend(name, url string) *Backend {
	return &Backend{Name: name, URL: url, status: StatusHealthy}
}

func (b *Backend) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Usable reports whether the selector may route new or migrated clients
// here.
func (b *Backend) Usable() bool {
	s := b.Status()
	return s == StatusHealthy || s == StatusDegraded
}

// markProbe folds one probe outcome in and reports whether the backend just
// transitioned to unhealthy.
func (b *Backend) markProbe(ok bool, threshold int) (wentDown bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ok {
		b.failures = 0
		b.status = StatusHealthy
		b.lastSeen = time.Now()
		return false
	}
	b.failures++
	if b.failures >= threshold && b.status != StatusUnhealthy {
		b.status = StatusUnhealthy
		return true
	}
	return false
}

// HealthChecker probes every backend on a fixed interval with a heartbeat
// frame over a short-lived WebSocket connection.
type HealthChecker struct {
	backends  []*Backend
	interval  time.Duration
	timeout   time.Duration
	threshold int

	// onDown fires once per healthy->unhealthy transition.
	onDown func(*Backend)

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewHealthChecker(backends []*Backend, interval, timeout time.Duration, threshold int, onDown func(*Backend)) *HealthChecker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	if threshold <= 0 {
		threshold = 1
	}
	return &HealthChecker{
		backends:  backends,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		onDown:    onDown,
		stop:      make(chan struct{}),
	}
}

func (h *HealthChecker) Start() {
	h.wg.Add(1)
	go h.run()
}

func (h *HealthChecker) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
	h.wg.Wait()
}

func (h *HealthChecker) run() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.sweep()
	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stop:
			return
		}
	}
}

func (h *HealthChecker) sweep() {
	for _, b := range h.backends {
		ok := h.probe(b)
		if b.markProbe(ok, h.threshold) {
			log.Printf("[Proxy] Backend %s is unhealthy", b.Name)
			if h.onDown != nil {
				h.onDown(b)
			}
		}
	}
}

// probe opens a fresh connection, sends one heartbeat and waits for any
// response frame.
func (h *HealthChecker) probe(b *Backend) bool {
	dialer := websocket.Dialer{HandshakeTimeout: h.timeout}
	conn, _, err := dialer.Dial(b.URL, nil)
	if err != nil {
		return false
	}
	defer conn.Close()

	payload, err := codec.Encode(codec.NewHeartbeat())
	if err != nil {
		return false
	}
	conn.SetWriteDeadline(time.Now().Add(h.timeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return false
	}
	conn.SetReadDeadline(time.Now().Add(h.timeout))
	if _, _, err := conn.ReadMessage(); err != nil {
		return false
	}
	return true
}

// SelectBackend returns the first usable backend in configured order.
func SelectBackend(backends []*Backend) (*Backend, bool) {
	for _, b := range backends {
		if b.Usable() {
			return b, true
		}
	}
	return nil, false
}
