package room

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"hokm-lite/card"
	"hokm-lite/hokm"
	"hokm-lite/internal/codec"
	"hokm-lite/internal/hybrid"
)

// Room owns one live game with an actor model: every state mutation runs
// on the single actor goroutine, so the engine never sees concurrent
// writers.
type Room struct {
	Code string

	cfg Config

	mu       sync.RWMutex
	game     *hokm.Game
	players  map[string]*PlayerConn // playerID -> connection state
	seats    [hokm.NumSeats]string  // seat -> playerID
	host     string
	closed   bool
	stopOnce sync.Once

	events chan Event
	done   chan struct{}

	// Timers and lifecycle metadata.
	turnSeat     int
	turnDeadline time.Time
	destroyAt    time.Time
	emptySince   time.Time
	startedAt    time.Time
	createdAt    time.Time
	gameID       string
	aborted      bool

	// Callback to deliver a frame to one player's connection.
	send func(playerID string, data []byte)
	// Called after the actor stops so the registry can drop the room.
	onClosed func(code string)

	data *hybrid.Layer
}

// Config carries the per-room policy knobs.
type Config struct {
	RoundsToWin    int
	Seed           int64
	TurnTimeout    time.Duration
	ReconnectGrace time.Duration
	GameOverLinger time.Duration
	DataOpTimeout  time.Duration
	ChatPerMinute  int
	ChatBurst      int
}

func (c Config) withDefaults() Config {
	if c.RoundsToWin <= 0 {
		c.RoundsToWin = 7
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 60 * time.Second
	}
	if c.ReconnectGrace <= 0 {
		c.ReconnectGrace = 180 * time.Second
	}
	if c.GameOverLinger <= 0 {
		c.GameOverLinger = 5 * time.Minute
	}
	if c.DataOpTimeout <= 0 {
		c.DataOpTimeout = 5 * time.Second
	}
	if c.ChatPerMinute <= 0 {
		c.ChatPerMinute = 20
	}
	if c.ChatBurst <= 0 {
		c.ChatBurst = 5
	}
	return c
}

// PlayerConn is one seated player's connection state.
type PlayerConn struct {
	PlayerID    string
	DisplayName string
	Seat        int
	Online      bool
	LastSeen    time.Time

	chatLimiter *rate.Limiter
}

// Event types for the actor message queue.
type EventType int

const (
	EventJoin EventType = iota
	EventRejoin
	EventLeave
	EventSelectHokm
	EventPlayCard
	EventChat
	EventClose
)

// Event is a message to the room actor.
type Event struct {
	Type        EventType
	PlayerID    string
	DisplayName string
	Suit        string
	Card        string
	Text        string
	Timestamp   time.Time
	Response    chan error
}

// New creates a room and starts its actor.
func New(code string, cfg Config, sendFn func(playerID string, data []byte), data *hybrid.Layer, onClosed func(code string)) (*Room, error) {
	cfg = cfg.withDefaults()
	game, err := hokm.NewGame(hokm.Config{RoundsToWin: cfg.RoundsToWin, Seed: cfg.Seed})
	if err != nil {
		return nil, err
	}

	r := &Room{
		Code:       code,
		cfg:        cfg,
		game:       game,
		players:    make(map[string]*PlayerConn),
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
		turnSeat:   hokm.InvalidSeat,
		emptySince: time.Now(),
		createdAt:  time.Now(),
		send:       sendFn,
		onClosed:   onClosed,
		data:       data,
	}

	go r.run()
	log.Printf("[Room %s] Created (rounds_to_win=%d)", code, cfg.RoundsToWin)
	return r, nil
}

// run is the main actor loop.
func (r *Room) run() {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event := <-r.events:
			err := r.handleEvent(event)
			if event.Response != nil {
				event.Response <- err
			}
		case <-ticker.C:
			r.tick()
		case <-r.done:
			log.Printf("[Room %s] Actor stopped", r.Code)
			return
		}
	}
}

// SubmitEvent delivers an event to the actor and waits for the result.
func (r *Room) SubmitEvent(e Event) error {
	e.Timestamp = time.Now()
	if e.Response == nil {
		e.Response = make(chan error, 1)
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrRoomClosed
	}

	select {
	case r.events <- e:
	case <-r.done:
		return ErrRoomClosed
	}

	select {
	case err := <-e.Response:
		return err
	case <-r.done:
		return ErrRoomClosed
	}
}

// Stop shuts down the room actor.
func (r *Room) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

func (r *Room) stopLocked() {
	if r.closed {
		return
	}
	r.closed = true
	r.stopOnce.Do(func() { close(r.done) })
	if r.onClosed != nil {
		go r.onClosed(r.Code)
	}
}

func (r *Room) handleEvent(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed && e.Type != EventClose {
		return ErrRoomClosed
	}

	switch e.Type {
	case EventJoin:
		return r.handleJoin(e.PlayerID, e.DisplayName)
	case EventRejoin:
		return r.handleRejoin(e.PlayerID, e.Timestamp)
	case EventLeave:
		return r.handleLeave(e.PlayerID, e.Timestamp)
	case EventSelectHokm:
		return r.handleSelectHokm(e.PlayerID, e.Suit)
	case EventPlayCard:
		return r.handlePlayCard(e.PlayerID, e.Card)
	case EventChat:
		return r.handleChat(e.PlayerID, e.Text)
	case EventClose:
		r.stopLocked()
		return nil
	default:
		return fmt.Errorf("unknown event type: %d", e.Type)
	}
}

func (r *Room) handleJoin(playerID, displayName string) error {
	now := time.Now()
	if p, exists := r.players[playerID]; exists {
		if p.Online {
			return ErrAlreadySeated
		}
		// A seated but disconnected player joining again is a rejoin.
		return r.handleRejoin(playerID, now)
	}
	seat := r.freeSeatLocked()
	if seat == hokm.InvalidSeat {
		return ErrRoomFull
	}

	if displayName == "" {
		displayName = playerID
	}
	p := &PlayerConn{
		PlayerID:    playerID,
		DisplayName: displayName,
		Seat:        seat,
		Online:      true,
		LastSeen:    now,
		chatLimiter: newChatLimiter(r.cfg),
	}
	r.players[playerID] = p
	r.seats[seat] = playerID
	if r.host == "" {
		r.host = playerID
	}
	r.emptySince = time.Time{}

	log.Printf("[Room %s] Player %s seated at %d", r.Code, playerID, seat)
	r.saveProfileLocked(playerID, displayName)

	// Everyone gets a refreshed roster with their own seat.
	for id, pc := range r.players {
		r.sendFrame(id, codec.NewJoinSuccess(r.Code, pc.Seat, r.playerInfosLocked()))
	}

	if r.seatedCountLocked() == hokm.NumSeats && r.game.Phase() == hokm.PhaseWaitingForPlayers {
		return r.startGameLocked()
	}
	r.persistLocked("")
	return nil
}

func (r *Room) handleRejoin(playerID string, now time.Time) error {
	p, exists := r.players[playerID]
	if !exists {
		return ErrNotSeated
	}
	if !p.Online && now.Sub(p.LastSeen) > r.cfg.ReconnectGrace {
		return ErrSessionExpired
	}

	wasOffline := !p.Online
	p.Online = true
	p.LastSeen = now

	// Idempotent: the snapshot is recomputed from authoritative state, so a
	// double rejoin sends the same view twice with no game side effects.
	r.sendPrivateSnapshotLocked(playerID)
	if wasOffline {
		r.broadcastLocked(codec.NewPlayerReconnected(playerID))
		log.Printf("[Room %s] Player %s reconnected", r.Code, playerID)
	}
	return nil
}

func (r *Room) handleLeave(playerID string, now time.Time) error {
	p, exists := r.players[playerID]
	if !exists {
		return ErrNotSeated
	}
	if !p.Online {
		return nil
	}
	p.Online = false
	p.LastSeen = now

	r.broadcastLocked(codec.NewPlayerDisconnected(playerID))
	log.Printf("[Room %s] Player %s disconnected (grace %s)", r.Code, playerID, r.cfg.ReconnectGrace)

	if r.allOfflineLocked() {
		r.emptySince = now
	}

	// Before the game starts, a leaver frees the seat immediately.
	if r.game.Phase() == hokm.PhaseWaitingForPlayers {
		r.seats[p.Seat] = ""
		delete(r.players, playerID)
		for id, pc := range r.players {
			r.sendFrame(id, codec.NewJoinSuccess(r.Code, pc.Seat, r.playerInfosLocked()))
		}
	}
	r.persistLocked("")
	return nil
}

func (r *Room) handleSelectHokm(playerID, suitStr string) error {
	p, exists := r.players[playerID]
	if !exists {
		return ErrNotSeated
	}
	suit, err := card.ParseSuit(suitStr)
	if err != nil {
		return ErrInvalidSuit
	}
	if err := r.game.SelectHokm(p.Seat, suit); err != nil {
		return err
	}
	r.recordMoveLocked(p.Seat, playerID, "select_hokm", "", suit.String(), nil)

	r.broadcastLocked(codec.NewHokmSelected(suit.String()))
	r.broadcastPhaseLocked()

	if err := r.game.DealFinal(); err != nil {
		return err
	}
	for seat := 0; seat < hokm.NumSeats; seat++ {
		if id := r.seats[seat]; id != "" {
			r.sendFrame(id, codec.NewFinalDeal(r.game.Hand(seat).Strings()))
		}
	}
	r.broadcastPhaseLocked()
	r.announceTurnLocked()
	r.persistLocked("")
	return nil
}

func (r *Room) handlePlayCard(playerID, cardStr string) error {
	p, exists := r.players[playerID]
	if !exists {
		return ErrNotSeated
	}
	c, err := card.Parse(cardStr)
	if err != nil {
		return ErrInvalidCard
	}
	return r.applyPlayLocked(p.Seat, playerID, c, false)
}

// applyPlayLocked applies one card for a seat, by request or by timeout
// auto-play, and drives all downstream broadcasts and persistence.
func (r *Room) applyPlayLocked(seat int, playerID string, c card.Card, auto bool) error {
	res, err := r.game.PlayCard(seat, c)
	if err != nil {
		return err
	}
	r.disarmTurnLocked()

	r.broadcastLocked(codec.NewCardPlayed(playerID, c.String()))
	r.recordMoveLocked(seat, playerID, "play_card", c.String(), "", res)

	if !res.TrickComplete {
		r.announceTurnLocked()
		r.persistLocked("")
		return nil
	}

	r.broadcastLocked(codec.NewTrickResult(r.seats[res.TrickWinner], res.TricksWon))

	if !res.HandComplete {
		r.announceTurnLocked()
		r.persistLocked("")
		return nil
	}

	r.broadcastLocked(codec.NewHandComplete(res.HandWinner, res.RoundsWon))
	r.broadcastPhaseLocked()
	r.persistLocked("hand_complete")

	if res.GameOver {
		return r.finishGameLocked(res.GameWinner, res.RoundsWon, false)
	}

	// Next hand: rotate hakem, redeal, back to hokm selection.
	if err := r.game.StartNextHand(); err != nil {
		return err
	}
	r.broadcastPhaseLocked()
	if err := r.game.DealInitial(); err != nil {
		return err
	}
	r.dealInitialLocked()
	r.persistLocked("")
	return nil
}

func (r *Room) handleChat(playerID, text string) error {
	p, exists := r.players[playerID]
	if !exists {
		return ErrNotSeated
	}
	if !p.chatLimiter.Allow() {
		return ErrRateLimited
	}
	r.broadcastLocked(codec.NewChat(playerID, text))
	return nil
}

// startGameLocked runs waiting_for_players → … → hokm_selection once the
// fourth player is seated.
func (r *Room) startGameLocked() error {
	if err := r.game.StartGame(); err != nil {
		return err
	}
	r.startedAt = time.Now()
	r.gameID = newGameID()

	r.broadcastPhaseLocked()
	r.broadcastLocked(codec.NewTeamAssignment(r.teamsLocked(), r.seats[r.game.Hakem()]))

	if err := r.game.DealInitial(); err != nil {
		return err
	}
	r.dealInitialLocked()
	r.persistLocked("")
	return nil
}

// dealInitialLocked sends each seat its five cards and announces
// hokm_selection.
func (r *Room) dealInitialLocked() {
	hakem := r.game.Hakem()
	for seat := 0; seat < hokm.NumSeats; seat++ {
		if id := r.seats[seat]; id != "" {
			r.sendFrame(id, codec.NewInitialDeal(r.game.Hand(seat).Strings(), seat == hakem))
		}
	}
	r.broadcastPhaseLocked()
}

func (r *Room) finishGameLocked(winner int, rounds [2]int, aborted bool) error {
	r.aborted = aborted
	r.disarmTurnLocked()
	if aborted {
		r.game.Abort()
	}

	// Write-through: the completed record must be durable before anyone
	// sees game_over. Aborted games are best-effort.
	if err := r.writeCompletedGameLocked(winner, rounds, aborted); err != nil {
		log.Printf("[Room %s] completed-game write-through failed: %v", r.Code, err)
		if !aborted {
			return err
		}
	}
	r.recordStatsLocked(winner, aborted)

	r.broadcastLocked(codec.NewGameOver(winner, rounds, aborted))
	r.broadcastPhaseLocked()
	r.persistLocked("game_over")

	r.destroyAt = time.Now().Add(r.cfg.GameOverLinger)
	log.Printf("[Room %s] Game over (winner=%d aborted=%v), destroying at %s", r.Code, winner, aborted, r.destroyAt.Format(time.RFC3339))
	return nil
}

// tick drives turn timeouts, grace expiry and room destruction.
func (r *Room) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := time.Now()

	r.handleTurnTimeoutLocked(now)
	r.expireGraceLocked(now)

	// A failed write-through left game_over unannounced; retry until the
	// cold store takes the record.
	if r.game.Phase() == hokm.PhaseGameOver && r.destroyAt.IsZero() && !r.aborted {
		rounds := r.game.RoundsWon()
		winner := 0
		if rounds[1] > rounds[0] {
			winner = 1
		}
		if err := r.finishGameLocked(winner, rounds, false); err != nil {
			log.Printf("[Room %s] game_over retry failed: %v", r.Code, err)
		}
	}

	if !r.destroyAt.IsZero() && now.After(r.destroyAt) {
		r.cleanupStateLocked()
		r.stopLocked()
		return
	}
	// Reap rooms everyone abandoned before a game ever started.
	if !r.emptySince.IsZero() && now.Sub(r.emptySince) > r.cfg.ReconnectGrace {
		r.cleanupStateLocked()
		r.stopLocked()
	}
}

func (r *Room) handleTurnTimeoutLocked(now time.Time) {
	if r.turnSeat == hokm.InvalidSeat || r.turnDeadline.IsZero() || now.Before(r.turnDeadline) {
		return
	}
	seat := r.turnSeat
	legal := r.game.LegalPlays(seat)
	if legal.Count() == 0 {
		r.disarmTurnLocked()
		return
	}
	playerID := r.seats[seat]
	log.Printf("[Room %s] Turn timeout, auto-playing %s for seat %d", r.Code, legal[0], seat)
	if err := r.applyPlayLocked(seat, playerID, legal[0], true); err != nil {
		log.Printf("[Room %s] auto-play failed: %v", r.Code, err)
		r.disarmTurnLocked()
	}
}

func (r *Room) expireGraceLocked(now time.Time) {
	if r.game.Phase() == hokm.PhaseGameOver {
		return
	}
	for _, p := range r.players {
		if p.Online || now.Sub(p.LastSeen) < r.cfg.ReconnectGrace {
			continue
		}
		if r.game.Phase() == hokm.PhaseWaitingForPlayers {
			continue // seat was already freed on leave
		}
		log.Printf("[Room %s] Grace expired for %s, aborting game", r.Code, p.PlayerID)
		if err := r.finishGameLocked(hokm.InvalidTeam, r.game.RoundsWon(), true); err != nil {
			log.Printf("[Room %s] abort failed: %v", r.Code, err)
		}
		return
	}
}

// announceTurnLocked broadcasts turn_start with per-seat views and arms
// the turn timer.
func (r *Room) announceTurnLocked() {
	seat := r.game.CurrentTurn()
	if seat == hokm.InvalidSeat {
		r.disarmTurnLocked()
		return
	}
	current := r.seats[seat]
	tricks, rounds := r.game.TricksWon(), r.game.RoundsWon()
	for s := 0; s < hokm.NumSeats; s++ {
		if id := r.seats[s]; id != "" {
			r.sendFrame(id, codec.NewTurnStart(current, s == seat, r.game.Hand(s).Strings(), tricks, rounds))
		}
	}
	r.turnSeat = seat
	r.turnDeadline = time.Now().Add(r.cfg.TurnTimeout)
}

func (r *Room) disarmTurnLocked() {
	r.turnSeat = hokm.InvalidSeat
	r.turnDeadline = time.Time{}
}

// --- small locked helpers ---

func (r *Room) freeSeatLocked() int {
	for s := 0; s < hokm.NumSeats; s++ {
		if r.seats[s] == "" {
			return s
		}
	}
	return hokm.InvalidSeat
}

func (r *Room) seatedCountLocked() int {
	n := 0
	for _, id := range r.seats {
		if id != "" {
			n++
		}
	}
	return n
}

func (r *Room) allOfflineLocked() bool {
	for _, p := range r.players {
		if p.Online {
			return false
		}
	}
	return true
}

func (r *Room) teamsLocked() [2][]string {
	var teams [2][]string
	for s := 0; s < hokm.NumSeats; s++ {
		if id := r.seats[s]; id != "" {
			teams[hokm.TeamOf(s)] = append(teams[hokm.TeamOf(s)], id)
		}
	}
	return teams
}

func (r *Room) playerInfosLocked() []codec.PlayerInfo {
	out := make([]codec.PlayerInfo, 0, len(r.players))
	for s := 0; s < hokm.NumSeats; s++ {
		id := r.seats[s]
		if id == "" {
			continue
		}
		p := r.players[id]
		out = append(out, codec.PlayerInfo{
			PlayerID:    p.PlayerID,
			DisplayName: p.DisplayName,
			Seat:        p.Seat,
			Team:        hokm.TeamOf(p.Seat),
			Connected:   p.Online,
		})
	}
	return out
}

// sendPrivateSnapshotLocked rebuilds one player's full view of the room.
// It never includes another seat's hand.
func (r *Room) sendPrivateSnapshotLocked(playerID string) {
	p := r.players[playerID]
	if p == nil {
		return
	}
	r.sendFrame(playerID, codec.NewJoinSuccess(r.Code, p.Seat, r.playerInfosLocked()))
	phase := r.game.Phase()
	r.sendFrame(playerID, codec.NewPhaseChange(phase.String()))
	if phase == hokm.PhaseWaitingForPlayers {
		return
	}
	r.sendFrame(playerID, codec.NewTeamAssignment(r.teamsLocked(), r.seats[r.game.Hakem()]))
	if suit, set := r.game.Hokm(); set {
		r.sendFrame(playerID, codec.NewHokmSelected(suit.String()))
	}
	hand := r.game.Hand(p.Seat).Strings()
	switch phase {
	case hokm.PhaseHokmSelection:
		r.sendFrame(playerID, codec.NewInitialDeal(hand, p.Seat == r.game.Hakem()))
	case hokm.PhaseFinalDeal, hokm.PhaseGameplay, hokm.PhaseHandComplete:
		r.sendFrame(playerID, codec.NewFinalDeal(hand))
	}
	// Replay the in-flight trick so a mid-trick reconnect sees the table.
	for _, tp := range r.game.CurrentTrick() {
		r.sendFrame(playerID, codec.NewCardPlayed(r.seats[tp.Seat], tp.Card.String()))
	}
	if turn := r.game.CurrentTurn(); turn != hokm.InvalidSeat {
		r.sendFrame(playerID, codec.NewTurnStart(r.seats[turn], turn == p.Seat, hand, r.game.TricksWon(), r.game.RoundsWon()))
	}
}

func (r *Room) broadcastPhaseLocked() {
	r.broadcastLocked(codec.NewPhaseChange(r.game.Phase().String()))
}

// broadcastLocked sends one frame to every seated player.
func (r *Room) broadcastLocked(frame any) {
	for id := range r.players {
		r.sendFrame(id, frame)
	}
}

func (r *Room) sendFrame(playerID string, frame any) {
	if r.send == nil {
		return
	}
	data, err := codec.Encode(frame)
	if err != nil {
		log.Printf("[Room %s] encode frame for %s: %v", r.Code, playerID, err)
		return
	}
	r.send(playerID, data)
}

func (r *Room) dataCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.cfg.DataOpTimeout)
}

func newChatLimiter(cfg Config) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(cfg.ChatPerMinute)/60.0), cfg.ChatBurst)
}
