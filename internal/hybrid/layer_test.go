package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"hokm-lite/internal/store"
)

func newTestLayer(t *testing.T) (*Layer, store.Hot, store.Cold) {
	t.Helper()
	hot := store.NewMemoryHot()
	cold, err := store.NewSQLiteCold(":memory:")
	if err != nil {
		t.Fatalf("open cold store: %v", err)
	}
	l := New(hot, cold, Config{
		Queue:         QueueConfig{Backoff: time.Millisecond},
		FlushInterval: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		l.Close()
		cold.Close()
		hot.Close()
	})
	return l, hot, cold
}

func TestHotPrimaryPutGet(t *testing.T) {
	l, hot, _ := newTestLayer(t)
	ctx := context.Background()

	if err := l.Put(ctx, EntitySession, "tok-1", []byte("p1"), ""); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := l.Get(ctx, EntitySession, "tok-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "p1" {
		t.Fatalf("get = %q", got)
	}

	// Session never syncs to cold; the raw hot key exists.
	if _, err := hot.Get(ctx, "session:tok-1"); err != nil {
		t.Fatalf("raw hot get: %v", err)
	}
}

func TestOnEventSyncToCold(t *testing.T) {
	l, _, cold := newTestLayer(t)
	ctx := context.Background()

	state := []byte(`{"phase":"hand_complete"}`)
	if err := l.Put(ctx, EntityGameState, "ABC123", state, "hand_complete"); err != nil {
		t.Fatalf("put: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		doc, err := cold.GetDocument(ctx, "game_state", "ABC123")
		return err == nil && string(doc) == string(state)
	})
}

func TestNonMatchingEventSyncsPeriodically(t *testing.T) {
	l, _, cold := newTestLayer(t)
	ctx := context.Background()

	state := []byte(`{"phase":"gameplay"}`)
	if err := l.Put(ctx, EntityGameState, "DEF456", state, ""); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Not synced immediately.
	if _, err := cold.GetDocument(ctx, "game_state", "DEF456"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cold get right after put: err = %v, want ErrNotFound", err)
	}

	// Layer close flushes the dirty set.
	l.Close()
	doc, err := cold.GetDocument(ctx, "game_state", "DEF456")
	if err != nil {
		t.Fatalf("cold get after close: %v", err)
	}
	if string(doc) != string(state) {
		t.Fatalf("cold doc = %q", doc)
	}
}

func TestColdPrimaryCacheOnRead(t *testing.T) {
	l, hot, cold := newTestLayer(t)
	ctx := context.Background()

	if err := cold.PutDocument(ctx, "player_profile", "p1", []byte(`{"player_id":"p1"}`)); err != nil {
		t.Fatalf("seed cold: %v", err)
	}

	got, err := l.Get(ctx, EntityPlayerProfile, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"player_id":"p1"}` {
		t.Fatalf("get = %q", got)
	}

	// The read populated the hot cache.
	cached, err := hot.Get(ctx, "player_profile:p1")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if string(cached) != string(got) {
		t.Fatalf("cache = %q", cached)
	}
}

func TestPutThroughUndoOnHotFailure(t *testing.T) {
	cold, err := store.NewSQLiteCold(":memory:")
	if err != nil {
		t.Fatalf("open cold store: %v", err)
	}
	defer cold.Close()

	l := New(failingHot{}, cold, Config{
		Queue:         QueueConfig{Backoff: time.Millisecond},
		FlushInterval: time.Hour,
	})
	defer l.Close()
	ctx := context.Background()

	err = l.PutThrough(ctx, EntityGameState, "XYZ789", []byte("final"))
	if err == nil {
		t.Fatal("write-through with dead hot store should fail")
	}
	// The cold write was undone.
	if _, err := cold.GetDocument(ctx, "game_state", "XYZ789"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cold doc after undo: err = %v, want ErrNotFound", err)
	}
}

func TestMoveLogImmediateSync(t *testing.T) {
	l, hot, cold := newTestLayer(t)
	ctx := context.Background()

	m := store.MoveRecord{
		ID: "mv-1", RoomCode: "ABC123", HandNum: 1, Trick: 1, Seat: 2,
		PlayerID: "p2", Move: "play_card", Card: "A_hearts", PlayedAt: time.Now().UTC(),
	}
	if err := l.AppendMove(ctx, m); err != nil {
		t.Fatalf("append move: %v", err)
	}

	// Hot list has the entry.
	entries, err := hot.LRange(ctx, "move_log:ABC123:1", 0, -1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("hot move log: %v, %d entries", err, len(entries))
	}

	// Durable copy lands via the HIGH queue.
	waitFor(t, time.Second, func() bool {
		moves, err := cold.ListMoves(ctx, "ABC123", 1)
		return err == nil && len(moves) == 1 && moves[0].Card == "A_hearts"
	})
}

func TestStatsDeltaBatched(t *testing.T) {
	l, _, cold := newTestLayer(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.RecordStatsDelta(store.StatsDelta{PlayerID: "p1", GamesPlayed: 1, Wins: 1, Rating: 5}); err != nil {
			t.Fatalf("stats delta: %v", err)
		}
	}

	waitFor(t, time.Second, func() bool {
		s, err := cold.GetStats(ctx, "p1")
		return err == nil && s.GamesPlayed == 2 && s.Wins == 2 && s.Rating == 10
	})

	s, err := l.Stats(ctx, "p1")
	if err != nil {
		t.Fatalf("layer stats: %v", err)
	}
	if s.GamesPlayed != 2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestCompleteGameWriteThrough(t *testing.T) {
	l, _, cold := newTestLayer(t)
	ctx := context.Background()

	rec := store.CompletedGame{
		ID: "g1", RoomCode: "ABC123", Players: []string{"a", "b", "c", "d"},
		WinningTeam: 0, RoundsWon: [2]int{7, 3}, Hands: 10,
		StartedAt: time.Now().Add(-time.Hour), FinishedAt: time.Now(),
	}
	if err := l.CompleteGame(ctx, rec); err != nil {
		t.Fatalf("complete game: %v", err)
	}

	// Durable before the call returns: no waiting needed.
	got, err := cold.GetCompletedGame(ctx, "g1")
	if err != nil {
		t.Fatalf("get completed game: %v", err)
	}
	if got.WinningTeam != 0 || got.Hands != 10 {
		t.Fatalf("completed game = %+v", got)
	}
}

func TestDeleteRemovesBothStores(t *testing.T) {
	l, hot, cold := newTestLayer(t)
	ctx := context.Background()

	if err := l.Put(ctx, EntityGameState, "ABC123", []byte("s"), "game_over"); err != nil {
		t.Fatalf("put: %v", err)
	}
	waitFor(t, time.Second, func() bool {
		_, err := cold.GetDocument(ctx, "game_state", "ABC123")
		return err == nil
	})

	if err := l.Delete(ctx, EntityGameState, "ABC123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := hot.Get(ctx, "game_state:ABC123"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("hot after delete: %v", err)
	}
	if _, err := cold.GetDocument(ctx, "game_state", "ABC123"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cold after delete: %v", err)
	}
}

// failingHot rejects every operation, standing in for a dead hot store.
type failingHot struct{}

var errHotDown = errors.New("hot store down")

func (failingHot) Close() error                           { return nil }
func (failingHot) Ping(ctx context.Context) error         { return errHotDown }
func (failingHot) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errHotDown
}
func (failingHot) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errHotDown
}
func (failingHot) Delete(ctx context.Context, key string) error { return errHotDown }
func (failingHot) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errHotDown
}
func (failingHot) RPush(ctx context.Context, key string, values ...[]byte) error {
	return errHotDown
}
func (failingHot) LRange(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return nil, errHotDown
}
