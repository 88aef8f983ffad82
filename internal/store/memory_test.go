package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryHotSetGetDelete(t *testing.T) {
	m := NewMemoryHot()
	defer m.Close()
	ctx := context.Background()

	if _, err := m.Get(ctx, "room:ABC123:state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: err = %v, want ErrNotFound", err)
	}

	if err := m.Set(ctx, "room:ABC123:state", []byte(`{"phase":"gameplay"}`), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := m.Get(ctx, "room:ABC123:state")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `{"phase":"gameplay"}` {
		t.Fatalf("get = %q", got)
	}

	if err := m.Delete(ctx, "room:ABC123:state"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.Get(ctx, "room:ABC123:state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryHotTTLExpiry(t *testing.T) {
	m := NewMemoryHot()
	defer m.Close()
	ctx := context.Background()

	if err := m.Set(ctx, "session:tok", []byte("p1"), 20*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := m.Get(ctx, "session:tok"); err != nil {
		t.Fatalf("get before expiry: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := m.Get(ctx, "session:tok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after expiry: err = %v, want ErrNotFound", err)
	}
}

func TestMemoryHotListOps(t *testing.T) {
	m := NewMemoryHot()
	defer m.Close()
	ctx := context.Background()

	for _, v := range []string{"m1", "m2", "m3"} {
		if err := m.RPush(ctx, "room:ABC123:moves", []byte(v)); err != nil {
			t.Fatalf("rpush %s: %v", v, err)
		}
	}

	all, err := m.LRange(ctx, "room:ABC123:moves", 0, -1)
	if err != nil {
		t.Fatalf("lrange: %v", err)
	}
	if len(all) != 3 || string(all[0]) != "m1" || string(all[2]) != "m3" {
		t.Fatalf("lrange = %q", all)
	}

	tail, err := m.LRange(ctx, "room:ABC123:moves", 1, 1)
	if err != nil {
		t.Fatalf("lrange slice: %v", err)
	}
	if len(tail) != 1 || string(tail[0]) != "m2" {
		t.Fatalf("lrange slice = %q", tail)
	}

	if out, _ := m.LRange(ctx, "missing", 0, -1); len(out) != 0 {
		t.Fatalf("lrange missing = %q", out)
	}
}

func TestSQLiteColdRoundTrip(t *testing.T) {
	cold, err := NewSQLiteCold(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer cold.Close()
	ctx := context.Background()

	// Documents.
	if err := cold.PutDocument(ctx, "game_state", "ABC123", []byte(`{"phase":"gameplay"}`)); err != nil {
		t.Fatalf("put document: %v", err)
	}
	doc, err := cold.GetDocument(ctx, "game_state", "ABC123")
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if string(doc) != `{"phase":"gameplay"}` {
		t.Fatalf("document = %q", doc)
	}
	if err := cold.PutDocument(ctx, "game_state", "ABC123", []byte(`{"phase":"game_over"}`)); err != nil {
		t.Fatalf("overwrite document: %v", err)
	}
	doc, _ = cold.GetDocument(ctx, "game_state", "ABC123")
	if string(doc) != `{"phase":"game_over"}` {
		t.Fatalf("document after overwrite = %q", doc)
	}
	if err := cold.DeleteDocument(ctx, "game_state", "ABC123"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if _, err := cold.GetDocument(ctx, "game_state", "ABC123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted document: err = %v, want ErrNotFound", err)
	}

	// Moves.
	now := time.Now().UTC().Truncate(time.Millisecond)
	for i, c := range []string{"A_hearts", "2_hearts"} {
		err := cold.AppendMove(ctx, MoveRecord{
			ID: "mv-" + c, RoomCode: "ABC123", HandNum: 1, Trick: 1, Seat: i,
			PlayerID: "p1", Move: "play_card", Card: c, PlayedAt: now.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("append move %s: %v", c, err)
		}
	}
	moves, err := cold.ListMoves(ctx, "ABC123", 1)
	if err != nil {
		t.Fatalf("list moves: %v", err)
	}
	if len(moves) != 2 || moves[0].Card != "A_hearts" || moves[1].Card != "2_hearts" {
		t.Fatalf("moves = %+v", moves)
	}

	// Completed games.
	rec := CompletedGame{
		ID: "g1", RoomCode: "ABC123",
		Players:     []string{"p0", "p1", "p2", "p3"},
		WinningTeam: 1, RoundsWon: [2]int{5, 7}, Hands: 12,
		StartedAt: now.Add(-time.Hour), FinishedAt: now,
	}
	if err := cold.InsertCompletedGame(ctx, rec); err != nil {
		t.Fatalf("insert completed game: %v", err)
	}
	got, err := cold.GetCompletedGame(ctx, "g1")
	if err != nil {
		t.Fatalf("get completed game: %v", err)
	}
	if got.WinningTeam != 1 || got.RoundsWon != [2]int{5, 7} || len(got.Players) != 4 {
		t.Fatalf("completed game = %+v", got)
	}
	// Duplicate insert is a no-op.
	if err := cold.InsertCompletedGame(ctx, rec); err != nil {
		t.Fatalf("re-insert completed game: %v", err)
	}
}

func TestSQLiteColdProfileAndStats(t *testing.T) {
	cold, err := NewSQLiteCold(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer cold.Close()
	ctx := context.Background()

	if _, err := cold.GetProfile(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing profile: err = %v, want ErrNotFound", err)
	}
	if err := cold.UpsertProfile(ctx, Profile{PlayerID: "p1", DisplayName: "Ali"}); err != nil {
		t.Fatalf("upsert profile: %v", err)
	}
	if err := cold.UpsertProfile(ctx, Profile{PlayerID: "p1", DisplayName: "Ali R."}); err != nil {
		t.Fatalf("update profile: %v", err)
	}
	p, err := cold.GetProfile(ctx, "p1")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.DisplayName != "Ali R." {
		t.Fatalf("display name = %q", p.DisplayName)
	}

	for i := 0; i < 3; i++ {
		if err := cold.ApplyStatsDelta(ctx, StatsDelta{PlayerID: "p1", GamesPlayed: 1, Wins: i % 2, Rating: 10}); err != nil {
			t.Fatalf("stats delta %d: %v", i, err)
		}
	}
	s, err := cold.GetStats(ctx, "p1")
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if s.GamesPlayed != 3 || s.Wins != 1 || s.Rating != 30 {
		t.Fatalf("stats = %+v", s)
	}
}
