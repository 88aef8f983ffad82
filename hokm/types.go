package hokm

import "hokm-lite/card"

const (
	NumSeats        = 4
	TricksPerHand   = 13
	InitialDealSize = 5
	FinalDealSize   = 8

	InvalidSeat = -1
	InvalidTeam = -1
)

// Phase 游戏阶段
type Phase byte

const (
	PhaseWaitingForPlayers Phase = 0
	PhaseTeamAssignment    Phase = 1
	PhaseInitialDeal       Phase = 2
	PhaseHokmSelection     Phase = 3
	PhaseFinalDeal         Phase = 4
	PhaseGameplay          Phase = 5
	PhaseHandComplete      Phase = 6
	PhaseGameOver          Phase = 7
)

var PhaseDictionary = map[Phase]string{
	PhaseWaitingForPlayers: "waiting_for_players",
	PhaseTeamAssignment:    "team_assignment",
	PhaseInitialDeal:       "initial_deal",
	PhaseHokmSelection:     "hokm_selection",
	PhaseFinalDeal:         "final_deal",
	PhaseGameplay:          "gameplay",
	PhaseHandComplete:      "hand_complete",
	PhaseGameOver:          "game_over",
}

func (p Phase) String() string {
	if s, ok := PhaseDictionary[p]; ok {
		return s
	}
	return "unknown"
}

// ParsePhase maps a wire phase name back to its Phase constant.
func ParsePhase(s string) (Phase, bool) {
	for p, name := range PhaseDictionary {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// TeamOf 座位所属队伍: 0,2 为队伍 0; 1,3 为队伍 1
func TeamOf(seat int) int {
	if seat < 0 || seat >= NumSeats {
		return InvalidTeam
	}
	return seat % 2
}

// NextSeat 顺时针下一个座位
func NextSeat(seat int) int {
	return (seat + 1) % NumSeats
}

// TrickPlay is one (seat, card) entry in the current trick.
type TrickPlay struct {
	Seat int
	Card card.Card
}

// PlayedCard is one audit-log entry within the current hand.
type PlayedCard struct {
	Seat  int
	Card  card.Card
	Trick int
}
