// Package codec defines the JSON frame contract between clients, the edge
// proxy and the game server. Every frame carries a "type" discriminator;
// unknown types are answered with a single error frame and the connection
// stays up.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client → server frame types.
const (
	TypeAuth         = "auth"
	TypeAuthToken    = "auth_token"
	TypeJoin         = "join"
	TypeRejoin       = "rejoin"
	TypeLeave        = "leave"
	TypeHokmSelected = "hokm_selected"
	TypePlayCard     = "play_card"
	TypeChat         = "chat"
	TypeHeartbeat    = "heartbeat"
)

// Server → client frame types.
const (
	TypeAuthSuccess        = "auth_success"
	TypeAuthFailed         = "auth_failed"
	TypeJoinSuccess        = "join_success"
	TypeError              = "error"
	TypePhaseChange        = "phase_change"
	TypeTeamAssignment     = "team_assignment"
	TypeInitialDeal        = "initial_deal"
	TypeFinalDeal          = "final_deal"
	TypeTurnStart          = "turn_start"
	TypeCardPlayed         = "card_played"
	TypeTrickResult        = "trick_result"
	TypeHandComplete       = "hand_complete"
	TypeGameOver           = "game_over"
	TypePlayerDisconnected = "player_disconnected"
	TypePlayerReconnected  = "player_reconnected"
	TypeServerMigration    = "server_migration"
)

// Error codes carried in the error frame.
const (
	CodeRoomFull       = "room_full"
	CodeNotYourTurn    = "not_your_turn"
	CodeWrongPhase     = "wrong_phase"
	CodeInvalidCard    = "invalid_card"
	CodeMustFollowSuit = "must_follow_suit"
	CodeSessionExpired = "session_expired"
	CodeRateLimited    = "rate_limited"
	CodeInternalError  = "internal_error"
)

var ErrMalformed = errors.New("malformed frame")

// ClientFrame is the union of all client-originated frames. Type selects
// which of the optional fields are meaningful.
type ClientFrame struct {
	Type string `json:"type"`

	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`

	RoomCode string `json:"room_code,omitempty"`
	PlayerID string `json:"player_id,omitempty"`
	Suit     string `json:"suit,omitempty"`
	Card     string `json:"card,omitempty"`
	Text     string `json:"text,omitempty"`
}

// DecodeClientFrame parses one raw frame. A missing type field counts as
// malformed.
func DecodeClientFrame(raw []byte) (*ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return &f, nil
}

// Validate checks the required fields for the frame's type. Unknown types
// pass; the dispatcher answers them with an error frame.
func (f *ClientFrame) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s requires %s", ErrMalformed, f.Type, field)
	}
	switch f.Type {
	case TypeAuth:
		if f.Username == "" {
			return missing("username")
		}
		if f.Password == "" {
			return missing("password")
		}
	case TypeAuthToken:
		if f.Token == "" {
			return missing("token")
		}
	case TypeJoin, TypeLeave:
		if f.RoomCode == "" {
			return missing("room_code")
		}
	case TypeRejoin:
		if f.RoomCode == "" {
			return missing("room_code")
		}
		if f.PlayerID == "" {
			return missing("player_id")
		}
	case TypeHokmSelected:
		if f.RoomCode == "" {
			return missing("room_code")
		}
		if f.Suit == "" {
			return missing("suit")
		}
	case TypePlayCard:
		if f.RoomCode == "" {
			return missing("room_code")
		}
		if f.Card == "" {
			return missing("card")
		}
	case TypeChat:
		if f.RoomCode == "" {
			return missing("room_code")
		}
		if f.Text == "" {
			return missing("text")
		}
	case TypeHeartbeat:
	}
	return nil
}

// Encode marshals any frame value to its wire bytes.
func Encode(frame any) ([]byte, error) {
	return json.Marshal(frame)
}
