package hokm

import "errors"

var (
	ErrWrongPhase     = errors.New("operation not allowed in current phase")
	ErrNotHakem       = errors.New("only the hakem may select hokm")
	ErrNotYourTurn    = errors.New("action out of turn")
	ErrCardNotInHand  = errors.New("card not in hand")
	ErrMustFollowSuit = errors.New("must follow led suit")
	ErrGameOver       = errors.New("game already over")
)

type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func ErrInvalidState(msg string) error { return InvalidStateError(msg) }
