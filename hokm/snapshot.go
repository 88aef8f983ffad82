package hokm

import (
	"fmt"
	"math/rand"
	"time"

	"hokm-lite/card"
)

// Snapshot is the serializable form of a Game, with every card in wire form.
// It round-trips through FromSnapshot, which is how games survive a server
// restart and how test fixtures are built.
type Snapshot struct {
	Phase   string `json:"phase"`
	HandNum int    `json:"hand_num"`

	Hakem   int    `json:"hakem"`
	Hokm    string `json:"hokm,omitempty"`

	Stock []string   `json:"stock,omitempty"`
	Hands [][]string `json:"hands"`

	Trick       []SnapshotPlay `json:"trick,omitempty"`
	LedSuit     string         `json:"led_suit,omitempty"`
	CurrentTurn int            `json:"current_turn"`
	TricksDone  int            `json:"tricks_done"`

	TricksWon [2]int `json:"tricks_won"`
	RoundsWon [2]int `json:"rounds_won"`

	PlayedCards []SnapshotPlay `json:"played_cards,omitempty"`

	LastHandWinner int `json:"last_hand_winner"`

	RoundsToWin int `json:"rounds_to_win"`
}

// SnapshotPlay is one (seat, card) entry, either in the live trick or in the
// hand's audit log.
type SnapshotPlay struct {
	Seat  int    `json:"seat"`
	Card  string `json:"card"`
	Trick int    `json:"trick,omitempty"`
}

// Snapshot captures the full game state.
func (g *Game) Snapshot() *Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := &Snapshot{
		Phase:          g.phase.String(),
		HandNum:        g.handNum,
		Hakem:          g.hakem,
		Stock:          g.stock.Strings(),
		Hands:          make([][]string, NumSeats),
		CurrentTurn:    g.curTurn,
		TricksDone:     g.tricksDone,
		TricksWon:      g.tricksWon,
		RoundsWon:      g.roundsWon,
		LastHandWinner: g.lastHandWinner,
		RoundsToWin:    g.cfg.RoundsToWin,
	}
	if g.hokmSet {
		snap.Hokm = g.hokm.String()
	}
	for s := 0; s < NumSeats; s++ {
		snap.Hands[s] = g.hands[s].Strings()
	}
	for _, tp := range g.trick {
		snap.Trick = append(snap.Trick, SnapshotPlay{Seat: tp.Seat, Card: tp.Card.String()})
	}
	if g.ledSet {
		snap.LedSuit = g.ledSuit.String()
	}
	for _, pc := range g.played {
		snap.PlayedCards = append(snap.PlayedCards, SnapshotPlay{Seat: pc.Seat, Card: pc.Card.String(), Trick: pc.Trick})
	}
	return snap
}

// FromSnapshot rebuilds a Game from a snapshot.
func FromSnapshot(snap *Snapshot) (*Game, error) {
	phase, ok := ParsePhase(snap.Phase)
	if !ok {
		return nil, fmt.Errorf("unknown phase: %q", snap.Phase)
	}
	if len(snap.Hands) != NumSeats {
		return nil, fmt.Errorf("snapshot has %d hands, want %d", len(snap.Hands), NumSeats)
	}

	g := &Game{
		cfg:            Config{RoundsToWin: snap.RoundsToWin},
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		phase:          phase,
		handNum:        snap.HandNum,
		hakem:          snap.Hakem,
		curTurn:        snap.CurrentTurn,
		tricksDone:     snap.TricksDone,
		tricksWon:      snap.TricksWon,
		roundsWon:      snap.RoundsWon,
		lastHandWinner: snap.LastHandWinner,
	}
	if err := g.cfg.validate(); err != nil {
		return nil, err
	}

	if snap.Hokm != "" {
		suit, err := card.ParseSuit(snap.Hokm)
		if err != nil {
			return nil, err
		}
		g.hokm = suit
		g.hokmSet = true
	}

	stock, err := card.ParseList(snap.Stock)
	if err != nil {
		return nil, fmt.Errorf("bad stock: %w", err)
	}
	g.stock = stock

	for s := 0; s < NumSeats; s++ {
		hand, err := card.ParseList(snap.Hands[s])
		if err != nil {
			return nil, fmt.Errorf("bad hand for seat %d: %w", s, err)
		}
		g.hands[s] = hand
	}

	for _, sp := range snap.Trick {
		c, err := card.Parse(sp.Card)
		if err != nil {
			return nil, fmt.Errorf("bad trick card: %w", err)
		}
		g.trick = append(g.trick, TrickPlay{Seat: sp.Seat, Card: c})
	}
	if snap.LedSuit != "" {
		suit, err := card.ParseSuit(snap.LedSuit)
		if err != nil {
			return nil, err
		}
		g.ledSuit = suit
		g.ledSet = true
	}

	for _, sp := range snap.PlayedCards {
		c, err := card.Parse(sp.Card)
		if err != nil {
			return nil, fmt.Errorf("bad played card: %w", err)
		}
		g.played = append(g.played, PlayedCard{Seat: sp.Seat, Card: c, Trick: sp.Trick})
	}

	return g, nil
}
