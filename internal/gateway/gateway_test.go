package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hokm-lite/internal/auth"
	"hokm-lite/internal/hybrid"
	"hokm-lite/internal/room"
	"hokm-lite/internal/store"
)

type testServer struct {
	gw    *Gateway
	rooms *room.Registry
	layer *hybrid.Layer
	srv   *httptest.Server
	url   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	hot := store.NewMemoryHot()
	cold, err := store.NewSQLiteCold(":memory:")
	require.NoError(t, err)
	layer := hybrid.New(hot, cold, hybrid.Config{Queue: hybrid.QueueConfig{Backoff: time.Millisecond}})

	authSvc := auth.NewManager()
	gw := New(Config{}, authSvc, layer)
	rooms := room.NewRegistry(room.Config{Seed: 7}, layer, gw.Send)
	gw.SetRegistry(rooms)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		gw.Close()
		rooms.Close()
		layer.Close()
		authSvc.Close()
		cold.Close()
		hot.Close()
	})
	return &testServer{
		gw:    gw,
		rooms: rooms,
		layer: layer,
		srv:   srv,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		f := readFrame(t, conn)
		if f["type"] == frameType {
			return f
		}
	}
	t.Fatalf("never received %s frame", frameType)
	return nil
}

func authClient(t *testing.T, conn *websocket.Conn, username string) string {
	t.Helper()
	sendJSON(t, conn, map[string]any{"type": "auth", "username": username, "password": "secret123"})
	f := readUntil(t, conn, "auth_success")
	return f["player_id"].(string)
}

func TestHeartbeatEchoBeforeAuth(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url)

	sendJSON(t, conn, map[string]any{"type": "heartbeat"})
	f := readFrame(t, conn)
	assert.Equal(t, "heartbeat", f["type"])
}

func TestAuthHandshake(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url)

	// Game frames before auth bounce with session_expired.
	sendJSON(t, conn, map[string]any{"type": "join", "room_code": "ABC123"})
	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])
	assert.Equal(t, "session_expired", f["code"])

	sendJSON(t, conn, map[string]any{"type": "auth", "username": "alice", "password": "secret123"})
	f = readFrame(t, conn)
	require.Equal(t, "auth_success", f["type"])
	playerID := f["player_id"].(string)
	token := f["token"].(string)
	assert.NotEmpty(t, playerID)
	assert.NotEmpty(t, token)

	// A second socket resumes the session by token.
	conn2 := dial(t, ts.url)
	sendJSON(t, conn2, map[string]any{"type": "auth_token", "token": token})
	f = readFrame(t, conn2)
	require.Equal(t, "auth_success", f["type"])
	assert.Equal(t, playerID, f["player_id"])

	// The session document landed in the hot store.
	doc, err := ts.gw.LookupSession(context.Background(), playerID)
	require.NoError(t, err)
	assert.Equal(t, "active", doc.Status)
	assert.Equal(t, "alice", doc.Username)
}

func TestAuthBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url)
	authClient(t, conn, "bob")

	conn2 := dial(t, ts.url)
	sendJSON(t, conn2, map[string]any{"type": "auth", "username": "bob", "password": "wrong-pass"})
	f := readFrame(t, conn2)
	assert.Equal(t, "auth_failed", f["type"])

	conn3 := dial(t, ts.url)
	sendJSON(t, conn3, map[string]any{"type": "auth_token", "token": "bogus"})
	f = readFrame(t, conn3)
	assert.Equal(t, "auth_failed", f["type"])
}

func TestMalformedFrames(t *testing.T) {
	ts := newTestServer(t)
	conn := dial(t, ts.url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])

	// Missing required field.
	sendJSON(t, conn, map[string]any{"type": "auth", "username": "carol"})
	f = readFrame(t, conn)
	assert.Equal(t, "error", f["type"])

	// The connection survived both.
	sendJSON(t, conn, map[string]any{"type": "heartbeat"})
	f = readFrame(t, conn)
	assert.Equal(t, "heartbeat", f["type"])
}

func TestJoinFlowThroughGateway(t *testing.T) {
	ts := newTestServer(t)

	conns := make([]*websocket.Conn, 4)
	for i, name := range []string{"player0", "player1", "player2", "player3"} {
		conns[i] = dial(t, ts.url)
		authClient(t, conns[i], name)
	}

	// First player creates the room implicitly with an empty code.
	sendJSON(t, conns[0], map[string]any{"type": "join", "room_code": "GATE42"})
	js := readUntil(t, conns[0], "join_success")
	require.Equal(t, "GATE42", js["room_code"])

	for _, conn := range conns[1:] {
		sendJSON(t, conn, map[string]any{"type": "join", "room_code": "GATE42"})
		readUntil(t, conn, "join_success")
	}

	// Four seats filled: the game starts and every client gets a deal.
	for _, conn := range conns {
		deal := readUntil(t, conn, "initial_deal")
		assert.Len(t, deal["hand"].([]any), 5)
	}
	assert.Equal(t, 1, ts.rooms.Count())
}

func TestHokmAndPlayDispatch(t *testing.T) {
	ts := newTestServer(t)

	conns := make([]*websocket.Conn, 4)
	for i, name := range []string{"player0", "player1", "player2", "player3"} {
		conns[i] = dial(t, ts.url)
		authClient(t, conns[i], name)
		sendJSON(t, conns[i], map[string]any{"type": "join", "room_code": "DSPTCH"})
	}

	// Find the hakem from the deal frames.
	hakemIdx := -1
	for i, conn := range conns {
		deal := readUntil(t, conn, "initial_deal")
		if deal["is_hakem"] == true {
			hakemIdx = i
		}
	}
	require.GreaterOrEqual(t, hakemIdx, 0)

	// A non-hakem choosing trump gets an error frame back.
	other := (hakemIdx + 1) % 4
	sendJSON(t, conns[other], map[string]any{"type": "hokm_selected", "room_code": "DSPTCH", "suit": "spades"})
	f := readUntil(t, conns[other], "error")
	assert.Equal(t, "wrong_phase", f["code"])
	assert.Contains(t, f["message"], "hakem")

	sendJSON(t, conns[hakemIdx], map[string]any{"type": "hokm_selected", "room_code": "DSPTCH", "suit": "hearts"})
	var hakemHand []any
	for i, conn := range conns {
		sel := readUntil(t, conn, "hokm_selected")
		assert.Equal(t, "hearts", sel["suit"])
		deal := readUntil(t, conn, "final_deal")
		assert.Len(t, deal["hand"].([]any), 13)
		readUntil(t, conn, "turn_start")
		if i == hakemIdx {
			hakemHand = deal["hand"].([]any)
		}
	}

	// The hakem leads; any card is legal on an open trick.
	lead := hakemHand[0].(string)
	sendJSON(t, conns[hakemIdx], map[string]any{"type": "play_card", "room_code": "DSPTCH", "card": lead})
	for _, conn := range conns {
		cp := readUntil(t, conn, "card_played")
		assert.Equal(t, lead, cp["card"])
	}
}

func TestReauthEvictsStaleSocket(t *testing.T) {
	ts := newTestServer(t)

	conn := dial(t, ts.url)
	sendJSON(t, conn, map[string]any{"type": "auth", "username": "alice", "password": "secret123"})
	f := readUntil(t, conn, "auth_success")
	playerID := f["player_id"].(string)
	token := f["token"].(string)

	// Broadcasts race against the evictions the whole time; none of them
	// may take the gateway down.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	payload := []byte(`{"type":"chat","player":"alice","text":"hi"}`)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					ts.gw.Send(playerID, payload)
				}
			}
		}()
	}

	var last *websocket.Conn
	for i := 0; i < 20; i++ {
		c := dial(t, ts.url)
		sendJSON(t, c, map[string]any{"type": "auth_token", "token": token})
		readUntil(t, c, "auth_success")
		last = c
	}
	close(stop)
	wg.Wait()

	// The newest socket is the live one; drain the queued broadcasts until
	// the echo comes back.
	sendJSON(t, last, map[string]any{"type": "heartbeat"})
	for i := 0; ; i++ {
		require.Less(t, i, 400, "never received heartbeat echo")
		if f := readFrame(t, last); f["type"] == "heartbeat" {
			break
		}
	}

	doc, err := ts.gw.LookupSession(context.Background(), playerID)
	require.NoError(t, err)
	assert.Equal(t, "active", doc.Status)
}

func TestEvictedSocketTeardownKeepsPresence(t *testing.T) {
	ts := newTestServer(t)

	conns := make([]*websocket.Conn, 4)
	ids := make([]string, 4)
	var token string
	for i, name := range []string{"player0", "player1", "player2", "player3"} {
		conns[i] = dial(t, ts.url)
		sendJSON(t, conns[i], map[string]any{"type": "auth", "username": name, "password": "secret123"})
		f := readUntil(t, conns[i], "auth_success")
		ids[i] = f["player_id"].(string)
		if i == 3 {
			token = f["token"].(string)
		}
		sendJSON(t, conns[i], map[string]any{"type": "join", "room_code": "EVCTRM"})
	}
	for _, conn := range conns {
		readUntil(t, conn, "initial_deal")
	}

	// p3 comes back on a fresh socket; the old one is evicted server-side.
	fresh := dial(t, ts.url)
	sendJSON(t, fresh, map[string]any{"type": "auth_token", "token": token})
	readUntil(t, fresh, "auth_success")
	sendJSON(t, fresh, map[string]any{"type": "rejoin", "room_code": "EVCTRM", "player_id": ids[3]})
	readUntil(t, fresh, "join_success")

	// The stale socket's teardown must not mark the player offline: nobody
	// sees a player_disconnected, and the session stays active.
	deadline := time.Now().Add(700 * time.Millisecond)
	for time.Now().Before(deadline) {
		conns[0].SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, data, err := conns[0].ReadMessage()
		if err != nil {
			break
		}
		var f map[string]any
		require.NoError(t, json.Unmarshal(data, &f))
		require.NotEqual(t, "player_disconnected", f["type"])
	}

	doc, err := ts.gw.LookupSession(context.Background(), ids[3])
	require.NoError(t, err)
	assert.Equal(t, "active", doc.Status)
}

func TestDisconnectMarksSessionAndSeat(t *testing.T) {
	ts := newTestServer(t)

	conns := make([]*websocket.Conn, 4)
	ids := make([]string, 4)
	for i, name := range []string{"player0", "player1", "player2", "player3"} {
		conns[i] = dial(t, ts.url)
		ids[i] = authClient(t, conns[i], name)
		sendJSON(t, conns[i], map[string]any{"type": "join", "room_code": "DROPPD"})
	}
	for _, conn := range conns {
		readUntil(t, conn, "initial_deal")
	}

	conns[3].Close()

	pd := readUntil(t, conns[0], "player_disconnected")
	assert.Equal(t, ids[3], pd["player"])

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		doc, err := ts.gw.LookupSession(context.Background(), ids[3])
		if err == nil && doc.Status == "disconnected" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never marked disconnected")
}
