package room

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"hokm-lite/hokm"
	"hokm-lite/internal/hybrid"
	"hokm-lite/internal/store"
)

// State is the hot-store document for one room. The engine snapshot keeps
// per-seat hands; everything else is seating and lifecycle metadata.
type State struct {
	RoomCode       string            `json:"room_code"`
	Host           string            `json:"host"`
	Seats          [4]string         `json:"seats"`
	Names          map[string]string `json:"names"`
	GameID         string            `json:"game_id"`
	Game           *hokm.Snapshot    `json:"game"`
	Aborted        bool              `json:"aborted,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	StartedAt      time.Time         `json:"started_at,omitempty"`
	LastActivityAt time.Time         `json:"last_activity_at"`
}

func newGameID() string { return uuid.NewString() }

func (r *Room) stateLocked() *State {
	names := make(map[string]string, len(r.players))
	for id, p := range r.players {
		names[id] = p.DisplayName
	}
	return &State{
		RoomCode:       r.Code,
		Host:           r.host,
		Seats:          r.seats,
		Names:          names,
		GameID:         r.gameID,
		Game:           r.game.Snapshot(),
		Aborted:        r.aborted,
		CreatedAt:      r.createdAt,
		StartedAt:      r.startedAt,
		LastActivityAt: time.Now(),
	}
}

// persistLocked writes the room document to the data layer. event tags the
// room event in flight so the routing table can trigger on-event syncs.
func (r *Room) persistLocked(event string) {
	if r.data == nil {
		return
	}
	payload, err := json.Marshal(r.stateLocked())
	if err != nil {
		log.Printf("[Room %s] marshal state: %v", r.Code, err)
		return
	}
	ctx, cancel := r.dataCtx()
	defer cancel()
	if err := r.data.Put(ctx, hybrid.EntityGameState, r.Code, payload, event); err != nil {
		log.Printf("[Room %s] persist state: %v", r.Code, err)
	}
}

func (r *Room) recordMoveLocked(seat int, playerID, move, cardStr, suitStr string, res *hokm.PlayResult) {
	if r.data == nil {
		return
	}
	trick := 0
	if res != nil {
		trick = res.TrickNumber
		if !res.TrickComplete {
			trick = r.game.TricksWon()[0] + r.game.TricksWon()[1] + 1
		}
	}
	rec := store.MoveRecord{
		ID:       uuid.NewString(),
		RoomCode: r.Code,
		HandNum:  r.game.HandNum(),
		Trick:    trick,
		Seat:     seat,
		PlayerID: playerID,
		Move:     move,
		Card:     cardStr,
		Suit:     suitStr,
		PlayedAt: time.Now().UTC(),
	}
	ctx, cancel := r.dataCtx()
	defer cancel()
	if err := r.data.AppendMove(ctx, rec); err != nil {
		log.Printf("[Room %s] record move: %v", r.Code, err)
	}
}

func (r *Room) writeCompletedGameLocked(winner int, rounds [2]int, aborted bool) error {
	if r.data == nil {
		return nil
	}
	players := make([]string, hokm.NumSeats)
	copy(players, r.seats[:])
	rec := store.CompletedGame{
		ID:          r.gameID,
		RoomCode:    r.Code,
		Players:     players,
		WinningTeam: winner,
		RoundsWon:   rounds,
		Hands:       r.game.HandNum(),
		Aborted:     aborted,
		StartedAt:   r.startedAt.UTC(),
		FinishedAt:  time.Now().UTC(),
	}
	if rec.ID == "" {
		rec.ID = newGameID()
	}
	ctx, cancel := r.dataCtx()
	defer cancel()
	return r.data.CompleteGame(ctx, rec)
}

// recordStatsLocked queues batched stat increments. Aborted games count
// nobody a win.
func (r *Room) recordStatsLocked(winner int, aborted bool) {
	if r.data == nil {
		return
	}
	for seat, playerID := range r.seats {
		if playerID == "" {
			continue
		}
		d := store.StatsDelta{PlayerID: playerID, GamesPlayed: 1}
		if !aborted && hokm.TeamOf(seat) == winner {
			d.Wins = 1
			d.Rating = 10
		}
		if err := r.data.RecordStatsDelta(d); err != nil {
			log.Printf("[Room %s] stats delta for %s: %v", r.Code, playerID, err)
		}
	}
}

// saveProfileLocked upserts the player's durable profile on seating.
// Best-effort: a cold-store outage must not block a join.
func (r *Room) saveProfileLocked(playerID, displayName string) {
	if r.data == nil {
		return
	}
	ctx, cancel := r.dataCtx()
	defer cancel()
	if err := r.data.SaveProfile(ctx, store.Profile{
		PlayerID:    playerID,
		DisplayName: displayName,
		UpdatedAt:   time.Now().UTC(),
	}); err != nil {
		log.Printf("[Room %s] save profile for %s: %v", r.Code, playerID, err)
	}
}

// cleanupStateLocked drops the room's hot-store state at destruction.
func (r *Room) cleanupStateLocked() {
	if r.data == nil {
		return
	}
	ctx, cancel := r.dataCtx()
	defer cancel()
	if err := r.data.Delete(ctx, hybrid.EntityGameState, r.Code); err != nil {
		log.Printf("[Room %s] cleanup state: %v", r.Code, err)
	}
}

// Restore rebuilds a room actor from a persisted State document. Players
// come back disconnected; their grace window restarts now.
func Restore(st *State, cfg Config, sendFn func(playerID string, data []byte), data *hybrid.Layer, onClosed func(code string)) (*Room, error) {
	cfg = cfg.withDefaults()
	game, err := hokm.FromSnapshot(st.Game)
	if err != nil {
		return nil, err
	}

	r := &Room{
		Code:      st.RoomCode,
		cfg:       cfg,
		game:      game,
		players:   make(map[string]*PlayerConn),
		events:    make(chan Event, 256),
		done:      make(chan struct{}),
		turnSeat:  hokm.InvalidSeat,
		host:      st.Host,
		seats:     st.Seats,
		gameID:    st.GameID,
		aborted:   st.Aborted,
		createdAt: st.CreatedAt,
		startedAt: st.StartedAt,
		send:      sendFn,
		onClosed:  onClosed,
		data:      data,
	}
	now := time.Now()
	for seat, id := range st.Seats {
		if id == "" {
			continue
		}
		name := st.Names[id]
		if name == "" {
			name = id
		}
		r.players[id] = &PlayerConn{
			PlayerID:    id,
			DisplayName: name,
			Seat:        seat,
			Online:      false,
			LastSeen:    now,
			chatLimiter: newChatLimiter(cfg),
		}
	}
	if turn := game.CurrentTurn(); turn != hokm.InvalidSeat {
		r.turnSeat = turn
		r.turnDeadline = now.Add(cfg.TurnTimeout)
	}
	if game.Phase() == hokm.PhaseGameOver {
		r.destroyAt = now.Add(cfg.GameOverLinger)
	}

	go r.run()
	log.Printf("[Room %s] Restored (phase=%s)", r.Code, game.Phase())
	return r, nil
}
