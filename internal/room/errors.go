package room

import (
	"errors"

	"hokm-lite/hokm"
	"hokm-lite/internal/codec"
)

var (
	ErrRoomFull       = errors.New("room is full")
	ErrAlreadySeated  = errors.New("player already seated")
	ErrNotSeated      = errors.New("player not seated in this room")
	ErrSessionExpired = errors.New("reconnect grace expired")
	ErrRoomClosed     = errors.New("room closed")
	ErrRateLimited    = errors.New("chat rate limit exceeded")
	ErrInvalidSuit    = errors.New("invalid suit")
	ErrInvalidCard    = errors.New("invalid card")
)

// CodeForError maps coordinator and engine errors onto wire error codes.
func CodeForError(err error) string {
	switch {
	case errors.Is(err, ErrRoomFull):
		return codec.CodeRoomFull
	case errors.Is(err, hokm.ErrNotYourTurn):
		return codec.CodeNotYourTurn
	case errors.Is(err, hokm.ErrWrongPhase), errors.Is(err, hokm.ErrGameOver), errors.Is(err, hokm.ErrNotHakem):
		return codec.CodeWrongPhase
	case errors.Is(err, hokm.ErrCardNotInHand), errors.Is(err, ErrInvalidCard), errors.Is(err, ErrInvalidSuit):
		return codec.CodeInvalidCard
	case errors.Is(err, hokm.ErrMustFollowSuit):
		return codec.CodeMustFollowSuit
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNotSeated):
		return codec.CodeSessionExpired
	case errors.Is(err, ErrRateLimited):
		return codec.CodeRateLimited
	default:
		return codec.CodeInternalError
	}
}
