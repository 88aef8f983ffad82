package store

import (
	"context"
	"time"
)

// MoveRecord is one applied move, appended to the durable move log.
type MoveRecord struct {
	ID       string    `json:"id"`
	RoomCode string    `json:"room_code"`
	HandNum  int       `json:"hand_num"`
	Trick    int       `json:"trick"`
	Seat     int       `json:"seat"`
	PlayerID string    `json:"player_id"`
	Move     string    `json:"move"` // "play_card" | "select_hokm"
	Card     string    `json:"card,omitempty"`
	Suit     string    `json:"suit,omitempty"`
	PlayedAt time.Time `json:"played_at"`
}

// CompletedGame is the durable record written through at game_over.
type CompletedGame struct {
	ID          string    `json:"id"`
	RoomCode    string    `json:"room_code"`
	Players     []string  `json:"players"` // by seat order
	WinningTeam int       `json:"winning_team"`
	RoundsWon   [2]int    `json:"rounds_won"`
	Hands       int       `json:"hands"`
	Aborted     bool      `json:"aborted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Profile is durable player identity data.
type Profile struct {
	PlayerID    string    `json:"player_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Stats are durable per-player aggregates.
type Stats struct {
	PlayerID    string    `json:"player_id"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Rating      int       `json:"rating"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// StatsDelta is one batched increment against a player's stats row.
type StatsDelta struct {
	PlayerID    string `json:"player_id"`
	GamesPlayed int    `json:"games_played"`
	Wins        int    `json:"wins"`
	Rating      int    `json:"rating"`
}

// Cold is the durable relational store. Generic documents back the sync
// queue; the typed methods back game completion and the profile/stats path.
type Cold interface {
	Close() error
	Ping(ctx context.Context) error

	PutDocument(ctx context.Context, entity, key string, payload []byte) error
	GetDocument(ctx context.Context, entity, key string) ([]byte, error)
	DeleteDocument(ctx context.Context, entity, key string) error

	AppendMove(ctx context.Context, m MoveRecord) error
	ListMoves(ctx context.Context, roomCode string, handNum int) ([]MoveRecord, error)

	InsertCompletedGame(ctx context.Context, rec CompletedGame) error
	GetCompletedGame(ctx context.Context, id string) (*CompletedGame, error)

	UpsertProfile(ctx context.Context, p Profile) error
	GetProfile(ctx context.Context, playerID string) (*Profile, error)

	ApplyStatsDelta(ctx context.Context, d StatsDelta) error
	GetStats(ctx context.Context, playerID string) (*Stats, error)
}
