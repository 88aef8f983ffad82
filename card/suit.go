package card

import (
	"fmt"
	"strings"
)

type Suit byte

const (
	Spade Suit = iota // ♠️
	Heart             // ♥️
	Club              // ♣️
	Diamond           // ♦️
)

// String returns the lowercase wire name of the suit.
func (s Suit) String() string {
	switch s {
	case Diamond:
		return "diamonds"
	case Club:
		return "clubs"
	case Heart:
		return "hearts"
	case Spade:
		return "spades"
	}
	return "?"
}

// ParseSuit 解析花色名 (大小写不敏感)
func ParseSuit(name string) (Suit, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "spades", "spade", "s":
		return Spade, nil
	case "hearts", "heart", "h":
		return Heart, nil
	case "clubs", "club", "c":
		return Club, nil
	case "diamonds", "diamond", "d":
		return Diamond, nil
	}
	return 0, fmt.Errorf("invalid suit: %q", name)
}
