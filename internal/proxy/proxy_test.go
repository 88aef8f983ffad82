package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationLimiter(t *testing.T) {
	base := time.Now()
	l := newMigrationLimiter(3, time.Minute, 5*time.Second)

	assert.True(t, l.allow(base))
	assert.False(t, l.allow(base.Add(time.Second)), "below min gap")
	assert.True(t, l.allow(base.Add(6*time.Second)))
	assert.True(t, l.allow(base.Add(12*time.Second)))
	assert.False(t, l.allow(base.Add(20*time.Second)), "window exhausted")

	// Old attempts age out of the window.
	assert.True(t, l.allow(base.Add(62*time.Second)))
}

func TestBackendProbeTransitions(t *testing.T) {
	b := NewBackend("primary", "ws://unused")
	require.True(t, b.Usable())

	assert.True(t, b.markProbe(false, 1), "first failure crosses threshold 1")
	assert.Equal(t, StatusUnhealthy, b.Status())
	assert.False(t, b.Usable())
	assert.False(t, b.markProbe(false, 1), "already down, no second transition")

	assert.False(t, b.markProbe(true, 1))
	assert.Equal(t, StatusHealthy, b.Status())

	// Higher threshold needs consecutive failures.
	b2 := NewBackend("secondary", "ws://unused")
	assert.False(t, b2.markProbe(false, 3))
	assert.False(t, b2.markProbe(false, 3))
	assert.True(t, b2.markProbe(false, 3))
}

func TestSelectBackendOrder(t *testing.T) {
	primary := NewBackend("primary", "ws://a")
	secondary := NewBackend("secondary", "ws://b")
	backends := []*Backend{primary, secondary}

	b, ok := SelectBackend(backends)
	require.True(t, ok)
	assert.Equal(t, primary, b)

	primary.markProbe(false, 1)
	b, ok = SelectBackend(backends)
	require.True(t, ok)
	assert.Equal(t, secondary, b)

	secondary.markProbe(false, 1)
	_, ok = SelectBackend(backends)
	assert.False(t, ok)
}

// fakeBackend is a minimal game server: it echoes heartbeats (health
// probes) and answers every other frame with a tagged echo.
type fakeBackend struct {
	name  string
	srv   *httptest.Server
	conns atomic.Int64
}

func newFakeBackend(t *testing.T, name string) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{name: name}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fb.conns.Add(1)
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f map[string]any
			if json.Unmarshal(msg, &f) == nil && f["type"] == "heartbeat" {
				conn.WriteMessage(websocket.TextMessage, msg)
				continue
			}
			reply, _ := json.Marshal(map[string]any{"type": "echo", "via": name, "got": string(msg)})
			conn.WriteMessage(websocket.TextMessage, reply)
		}
	})
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.srv.URL, "http") + "/ws"
}

func proxyServer(t *testing.T, p *Proxy) string {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", p.HandleClient)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f map[string]any
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestProxyForwardsBothWays(t *testing.T) {
	fb := newFakeBackend(t, "primary")
	backends := []*Backend{NewBackend("primary", fb.wsURL())}
	p := New(Config{HealthInterval: 50 * time.Millisecond, ProbeTimeout: time.Second}, backends)
	p.Start()
	defer p.Close()

	url := proxyServer(t, p)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(map[string]any{"type": "join", "room_code": "FWD123"}))
	f := readJSON(t, client)
	assert.Equal(t, "echo", f["type"])
	assert.Equal(t, "primary", f["via"])
	assert.Equal(t, 1, p.SessionCount())
}

func TestProxyRejectsWithNoBackends(t *testing.T) {
	dead := NewBackend("primary", "ws://127.0.0.1:1/ws")
	dead.markProbe(false, 1)
	p := New(Config{}, []*Backend{dead})
	url := proxyServer(t, p)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProxyFailoverMigratesClient(t *testing.T) {
	primary := newFakeBackend(t, "primary")
	secondary := newFakeBackend(t, "secondary")
	backends := []*Backend{
		NewBackend("primary", primary.wsURL()),
		NewBackend("secondary", secondary.wsURL()),
	}
	p := New(Config{
		HealthInterval:  30 * time.Millisecond,
		ProbeTimeout:    500 * time.Millisecond,
		MigrationMinGap: time.Millisecond,
	}, backends)
	p.Start()
	defer p.Close()

	url := proxyServer(t, p)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	// Bind a room so the migration hint can carry it.
	require.NoError(t, client.WriteJSON(map[string]any{"type": "join", "room_code": "MIGRT1"}))
	f := readJSON(t, client)
	require.Equal(t, "primary", f["via"])

	primary.srv.CloseClientConnections()
	primary.srv.Close()

	// Exactly one migration frame, pointing at the secondary.
	f = readJSON(t, client)
	require.Equal(t, "server_migration", f["type"], "got %v", f)
	assert.Equal(t, "secondary", f["new_server"])
	assert.Equal(t, "MIGRT1", f["room_context"])

	// The rewired session forwards to the secondary.
	require.NoError(t, client.WriteJSON(map[string]any{"type": "rejoin", "room_code": "MIGRT1", "player_id": "p0"}))
	f = readJSON(t, client)
	assert.Equal(t, "echo", f["type"])
	assert.Equal(t, "secondary", f["via"])
}

func TestProxyMigrationLimitDisconnects(t *testing.T) {
	flappy := newFakeBackend(t, "flappy")
	stable := newFakeBackend(t, "stable")
	backends := []*Backend{
		NewBackend("flappy", flappy.wsURL()),
		NewBackend("stable", stable.wsURL()),
	}
	p := New(Config{
		HealthInterval:  time.Hour, // manual control
		MigrationLimit:  2,
		MigrationWindow: time.Minute,
		MigrationMinGap: time.Millisecond,
	}, backends)
	defer p.Close()

	url := proxyServer(t, p)
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	// Grab the session and push it over the limit directly.
	var s *session
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s == nil {
		p.mu.RLock()
		for _, live := range p.sessions {
			s = live
		}
		p.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	require.NotNil(t, s)

	s.migrate(0, "test kick 1")
	readJSON(t, client) // server_migration 1
	time.Sleep(5 * time.Millisecond)
	s.migrate(1, "test kick 2")
	readJSON(t, client) // server_migration 2
	time.Sleep(5 * time.Millisecond)

	// Third attempt exceeds MigrationLimit=2: fatal error, then close.
	s.migrate(2, "test kick 3")
	f := readJSON(t, client)
	assert.Equal(t, "error", f["type"])

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	assert.Error(t, err, "connection should be closed")
}
