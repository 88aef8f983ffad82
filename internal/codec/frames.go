package codec

// Server frame payloads. Each struct marshals to one wire frame; Type is
// fixed by the constructor.

type AuthSuccess struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id"`
	Token    string `json:"token"`
}

func NewAuthSuccess(playerID, token string) AuthSuccess {
	return AuthSuccess{Type: TypeAuthSuccess, PlayerID: playerID, Token: token}
}

type AuthFailed struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewAuthFailed(reason string) AuthFailed {
	return AuthFailed{Type: TypeAuthFailed, Reason: reason}
}

// PlayerInfo is the public view of one seated player.
type PlayerInfo struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Seat        int    `json:"seat"`
	Team        int    `json:"team"`
	Connected   bool   `json:"connected"`
}

type JoinSuccess struct {
	Type     string       `json:"type"`
	RoomCode string       `json:"room_code"`
	Seat     int          `json:"seat"`
	Players  []PlayerInfo `json:"players"`
}

func NewJoinSuccess(roomCode string, seat int, players []PlayerInfo) JoinSuccess {
	return JoinSuccess{Type: TypeJoinSuccess, RoomCode: roomCode, Seat: seat, Players: players}
}

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}

type PhaseChange struct {
	Type     string `json:"type"`
	NewPhase string `json:"new_phase"`
}

func NewPhaseChange(phase string) PhaseChange {
	return PhaseChange{Type: TypePhaseChange, NewPhase: phase}
}

type TeamAssignment struct {
	Type  string      `json:"type"`
	Teams [2][]string `json:"teams"` // player IDs per team
	Hakem string      `json:"hakem"` // hakem's player ID
}

func NewTeamAssignment(teams [2][]string, hakem string) TeamAssignment {
	return TeamAssignment{Type: TypeTeamAssignment, Teams: teams, Hakem: hakem}
}

type InitialDeal struct {
	Type    string   `json:"type"`
	Hand    []string `json:"hand"`
	IsHakem bool     `json:"is_hakem"`
}

func NewInitialDeal(hand []string, isHakem bool) InitialDeal {
	return InitialDeal{Type: TypeInitialDeal, Hand: hand, IsHakem: isHakem}
}

type HokmSelected struct {
	Type string `json:"type"`
	Suit string `json:"suit"`
}

func NewHokmSelected(suit string) HokmSelected {
	return HokmSelected{Type: TypeHokmSelected, Suit: suit}
}

type FinalDeal struct {
	Type string   `json:"type"`
	Hand []string `json:"hand"`
}

func NewFinalDeal(hand []string) FinalDeal {
	return FinalDeal{Type: TypeFinalDeal, Hand: hand}
}

type TurnStart struct {
	Type          string   `json:"type"`
	CurrentPlayer string   `json:"current_player"`
	YourTurn      bool     `json:"your_turn"`
	Hand          []string `json:"hand,omitempty"`
	TeamTricks    [2]int   `json:"team_tricks"`
	RoundScores   [2]int   `json:"round_scores"`
}

func NewTurnStart(currentPlayer string, yourTurn bool, hand []string, teamTricks, roundScores [2]int) TurnStart {
	return TurnStart{
		Type:          TypeTurnStart,
		CurrentPlayer: currentPlayer,
		YourTurn:      yourTurn,
		Hand:          hand,
		TeamTricks:    teamTricks,
		RoundScores:   roundScores,
	}
}

type CardPlayed struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	Card   string `json:"card"`
}

func NewCardPlayed(player, card string) CardPlayed {
	return CardPlayed{Type: TypeCardPlayed, Player: player, Card: card}
}

type TrickResult struct {
	Type       string `json:"type"`
	Winner     string `json:"winner"`
	TeamTricks [2]int `json:"team_tricks"`
}

func NewTrickResult(winner string, teamTricks [2]int) TrickResult {
	return TrickResult{Type: TypeTrickResult, Winner: winner, TeamTricks: teamTricks}
}

type HandComplete struct {
	Type        string `json:"type"`
	WinningTeam int    `json:"winning_team"`
	RoundScores [2]int `json:"round_scores"`
}

func NewHandComplete(winningTeam int, roundScores [2]int) HandComplete {
	return HandComplete{Type: TypeHandComplete, WinningTeam: winningTeam, RoundScores: roundScores}
}

type GameOver struct {
	Type        string `json:"type"`
	WinningTeam int    `json:"winning_team"`
	FinalScores [2]int `json:"final_scores"`
	Aborted     bool   `json:"aborted,omitempty"`
}

func NewGameOver(winningTeam int, finalScores [2]int, aborted bool) GameOver {
	return GameOver{Type: TypeGameOver, WinningTeam: winningTeam, FinalScores: finalScores, Aborted: aborted}
}

type PlayerPresence struct {
	Type   string `json:"type"`
	Player string `json:"player"`
}

func NewPlayerDisconnected(player string) PlayerPresence {
	return PlayerPresence{Type: TypePlayerDisconnected, Player: player}
}

func NewPlayerReconnected(player string) PlayerPresence {
	return PlayerPresence{Type: TypePlayerReconnected, Player: player}
}

type Chat struct {
	Type   string `json:"type"`
	Player string `json:"player"`
	Text   string `json:"text"`
}

func NewChat(player, text string) Chat {
	return Chat{Type: TypeChat, Player: player, Text: text}
}

type Heartbeat struct {
	Type string `json:"type"`
}

func NewHeartbeat() Heartbeat {
	return Heartbeat{Type: TypeHeartbeat}
}

type ServerMigration struct {
	Type        string `json:"type"`
	NewServer   string `json:"new_server"`
	RoomContext string `json:"room_context,omitempty"` // last-known room code
}

func NewServerMigration(newServer, roomContext string) ServerMigration {
	return ServerMigration{Type: TypeServerMigration, NewServer: newServer, RoomContext: roomContext}
}
