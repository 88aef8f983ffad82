package hokm

import (
	"math/rand"
	"sync"
	"time"

	"hokm-lite/card"
)

// Game is the pure Hokm rule engine. It mutates its own state value and
// performs no I/O; the room coordinator serializes access and owns all
// side effects (broadcast, persistence, timers).
type Game struct {
	cfg Config
	rng *rand.Rand

	mu sync.Mutex

	phase   Phase
	handNum int

	hakem   int
	hokm    card.Suit
	hokmSet bool

	stock card.CardList
	hands [NumSeats]card.CardList

	trick      []TrickPlay
	ledSuit    card.Suit
	ledSet     bool
	curTurn    int
	tricksDone int

	tricksWon [2]int
	roundsWon [2]int
	played    []PlayedCard

	lastHandWinner int
}

// PlayResult reports what a single applied card did to the game.
type PlayResult struct {
	Seat int
	Card card.Card

	TrickComplete bool
	TrickWinner   int
	TrickNumber   int

	HandComplete bool
	HandWinner   int

	GameOver   bool
	GameWinner int

	TricksWon [2]int
	RoundsWon [2]int
}

func NewGame(cfg Config) (*Game, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Game{
		cfg:            cfg,
		rng:            rand.New(rand.NewSource(seed)),
		phase:          PhaseWaitingForPlayers,
		hakem:          InvalidSeat,
		curTurn:        InvalidSeat,
		lastHandWinner: InvalidTeam,
	}, nil
}

// StartGame fixes the teams (seats 0,2 vs 1,3) and picks a random hakem.
func (g *Game) StartGame() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseWaitingForPlayers {
		return ErrWrongPhase
	}
	g.hakem = g.rng.Intn(NumSeats)
	g.phase = PhaseTeamAssignment
	return nil
}

// DealInitial shuffles a fresh deck and deals five cards to each seat.
func (g *Game) DealInitial() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseTeamAssignment && g.phase != PhaseInitialDeal {
		return ErrWrongPhase
	}

	g.handNum++
	g.tricksWon = [2]int{}
	g.tricksDone = 0
	g.trick = nil
	g.ledSet = false
	g.played = nil
	g.hokmSet = false
	g.curTurn = InvalidSeat

	g.stock = card.FullDeck()
	g.shuffleLocked()
	for s := 0; s < NumSeats; s++ {
		cards, ok := g.stock.PopCards(InitialDealSize)
		if !ok {
			return ErrInvalidState("stock exhausted during initial deal")
		}
		g.hands[s] = cards
	}

	g.phase = PhaseHokmSelection
	return nil
}

// SelectHokm records the hakem's trump choice.
func (g *Game) SelectHokm(seat int, suit card.Suit) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseHokmSelection {
		return ErrWrongPhase
	}
	if seat != g.hakem {
		return ErrNotHakem
	}
	g.hokm = suit
	g.hokmSet = true
	g.phase = PhaseFinalDeal
	return nil
}

// DealFinal deals the remaining eight cards to each seat and opens gameplay
// with the hakem leading.
func (g *Game) DealFinal() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseFinalDeal {
		return ErrWrongPhase
	}
	for s := 0; s < NumSeats; s++ {
		cards, ok := g.stock.PopCards(FinalDealSize)
		if !ok {
			return ErrInvalidState("stock exhausted during final deal")
		}
		g.hands[s].Add(cards...)
	}
	g.phase = PhaseGameplay
	g.curTurn = g.hakem
	return nil
}

// ValidatePlay checks a prospective play without applying it.
func (g *Game) ValidatePlay(seat int, c card.Card) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.validatePlayLocked(seat, c)
}

func (g *Game) validatePlayLocked(seat int, c card.Card) error {
	if g.phase == PhaseGameOver {
		return ErrGameOver
	}
	if g.phase != PhaseGameplay {
		return ErrWrongPhase
	}
	if seat != g.curTurn {
		return ErrNotYourTurn
	}
	if !g.hands[seat].Contains(c) {
		return ErrCardNotInHand
	}
	if g.ledSet && c.Suit() != g.ledSuit && g.hands[seat].ContainsSuit(g.ledSuit) {
		return ErrMustFollowSuit
	}
	return nil
}

// PlayCard validates and applies one card. Trick resolution, hand completion
// and game completion all happen atomically inside the same lock.
func (g *Game) PlayCard(seat int, c card.Card) (*PlayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.validatePlayLocked(seat, c); err != nil {
		return nil, err
	}

	g.hands[seat].Remove(c)
	g.trick = append(g.trick, TrickPlay{Seat: seat, Card: c})
	g.played = append(g.played, PlayedCard{Seat: seat, Card: c, Trick: g.tricksDone + 1})
	if !g.ledSet {
		g.ledSuit = c.Suit()
		g.ledSet = true
	}

	res := &PlayResult{Seat: seat, Card: c, TrickWinner: InvalidSeat, HandWinner: InvalidTeam, GameWinner: InvalidTeam}

	if len(g.trick) < NumSeats {
		g.curTurn = NextSeat(seat)
		res.TricksWon = g.tricksWon
		res.RoundsWon = g.roundsWon
		return res, nil
	}

	winner := g.resolveTrickLocked()
	winningTeam := TeamOf(winner)
	g.tricksWon[winningTeam]++
	g.tricksDone++
	g.trick = nil
	g.ledSet = false
	g.curTurn = winner

	res.TrickComplete = true
	res.TrickWinner = winner
	res.TrickNumber = g.tricksDone

	if g.tricksWon[winningTeam] >= 7 || g.tricksDone == TricksPerHand {
		handWinner := 0
		if g.tricksWon[1] > g.tricksWon[0] {
			handWinner = 1
		}
		g.roundsWon[handWinner]++
		g.lastHandWinner = handWinner
		g.phase = PhaseHandComplete
		g.curTurn = InvalidSeat

		res.HandComplete = true
		res.HandWinner = handWinner

		if g.roundsWon[handWinner] >= g.cfg.RoundsToWin {
			g.phase = PhaseGameOver
			res.GameOver = true
			res.GameWinner = handWinner
		}
	}

	res.TricksWon = g.tricksWon
	res.RoundsWon = g.roundsWon
	return res, nil
}

// resolveTrickLocked declares the trick winner: highest hokm if any hokm was
// played, otherwise highest card of the led suit. Cards are unique so ties
// cannot occur.
func (g *Game) resolveTrickLocked() int {
	led := g.trick[0].Card.Suit()

	best := InvalidSeat
	bestVal := -1
	trumped := false
	for _, tp := range g.trick {
		s := tp.Card.Suit()
		switch {
		case g.hokmSet && s == g.hokm:
			if !trumped || tp.Card.Value() > bestVal {
				trumped = true
				best = tp.Seat
				bestVal = tp.Card.Value()
			}
		case !trumped && s == led:
			if tp.Card.Value() > bestVal {
				best = tp.Seat
				bestVal = tp.Card.Value()
			}
		}
	}
	return best
}

// StartNextHand rotates the hakem onto the winning team and arms the next
// deal. The hakem keeps the seat if their team won the hand.
func (g *Game) StartNextHand() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase == PhaseGameOver {
		return ErrGameOver
	}
	if g.phase != PhaseHandComplete {
		return ErrWrongPhase
	}
	if TeamOf(g.hakem) != g.lastHandWinner {
		s := NextSeat(g.hakem)
		for TeamOf(s) != g.lastHandWinner {
			s = NextSeat(s)
		}
		g.hakem = s
	}
	g.phase = PhaseInitialDeal
	return nil
}

// Abort forces the game into its terminal phase with no hand or round
// credited. Used when a seat's reconnect grace expires.
func (g *Game) Abort() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.phase = PhaseGameOver
	g.curTurn = InvalidSeat
}

// LegalPlays is a pure projection of the cards the seat may play right now.
func (g *Game) LegalPlays(seat int) card.CardList {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.phase != PhaseGameplay || seat != g.curTurn {
		return nil
	}
	hand := g.hands[seat]
	if g.ledSet && hand.ContainsSuit(g.ledSuit) {
		out := make(card.CardList, 0, len(hand))
		for _, c := range hand {
			if c.Suit() == g.ledSuit {
				out = append(out, c)
			}
		}
		return out
	}
	out := make(card.CardList, len(hand))
	copy(out, hand)
	return out
}

func (g *Game) shuffleLocked() {
	g.rng.Shuffle(len(g.stock), func(i, j int) {
		g.stock[i], g.stock[j] = g.stock[j], g.stock[i]
	})
}

// --- accessors ---

func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phase
}

func (g *Game) Hakem() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hakem
}

func (g *Game) Hokm() (card.Suit, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hokm, g.hokmSet
}

func (g *Game) CurrentTurn() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.curTurn
}

func (g *Game) Hand(seat int) card.CardList {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(card.CardList, len(g.hands[seat]))
	copy(out, g.hands[seat])
	return out
}

// CurrentTrick returns the in-flight trick's plays in order, empty between
// tricks.
func (g *Game) CurrentTrick() []TrickPlay {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]TrickPlay, len(g.trick))
	copy(out, g.trick)
	return out
}

func (g *Game) TricksWon() [2]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tricksWon
}

func (g *Game) RoundsWon() [2]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roundsWon
}

func (g *Game) HandNum() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handNum
}
