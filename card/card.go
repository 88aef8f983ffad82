package card

import (
	"fmt"
	"strings"
)

// Card 牌枚举
//
// 编码规则:
// - 高4位: 花色 (0:Spade, 1:Heart, 2:Club, 3:Diamond)
// - 低4位: 点数 (1:A, 2..9, 10:T, 11:J, 12:Q, 13:K)
type Card byte

// String returns the wire form "{rank}_{suit}", e.g. "A_hearts", "10_spades".
func (c Card) String() string {
	if c == CardInvalid {
		return "Invalid"
	}
	return fmt.Sprintf("%s_%s", c.RankLabel(), c.Suit())
}

// Rank 获取牌面值 1-13 (A=1, K=13)
func (c Card) Rank() byte {
	if c == CardInvalid {
		return 0
	}
	return byte(c & 0x0F)
}

// Suit 花色 (0:Spades, 1:Hearts, 2:Clubs, 3:Diamonds)
func (c Card) Suit() Suit {
	return Suit(c >> 4)
}

func (c Card) IsAce() bool {
	return c.Rank() == 1
}

// Value 返回用于比较大小的点数:
// - A 视为 14
// - 其它为原始点数
func (c Card) Value() int {
	r := int(c & 0x0F)
	if r == 1 {
		return 14
	}
	return r
}

// RankLabel returns the rank part of the wire form: "A", "2".."10", "J", "Q", "K".
func (c Card) RankLabel() string {
	switch r := c.Rank(); r {
	case 1:
		return "A"
	case 10:
		return "10"
	case 11:
		return "J"
	case 12:
		return "Q"
	case 13:
		return "K"
	default:
		return fmt.Sprintf("%d", r)
	}
}

// Parse 将字符串 (如 "A_hearts", "10_spades") 转换为 Card 常量
func Parse(cardStr string) (Card, error) {
	idx := strings.LastIndexByte(cardStr, '_')
	if idx <= 0 || idx == len(cardStr)-1 {
		return CardInvalid, fmt.Errorf("invalid card string: %q", cardStr)
	}

	suit, err := ParseSuit(cardStr[idx+1:])
	if err != nil {
		return CardInvalid, fmt.Errorf("invalid card string %q: %w", cardStr, err)
	}

	var rankVal Card
	switch strings.ToUpper(cardStr[:idx]) {
	case "A":
		rankVal = 0x01
	case "2":
		rankVal = 0x02
	case "3":
		rankVal = 0x03
	case "4":
		rankVal = 0x04
	case "5":
		rankVal = 0x05
	case "6":
		rankVal = 0x06
	case "7":
		rankVal = 0x07
	case "8":
		rankVal = 0x08
	case "9":
		rankVal = 0x09
	case "T", "10":
		rankVal = 0x0A
	case "J":
		rankVal = 0x0B
	case "Q":
		rankVal = 0x0C
	case "K":
		rankVal = 0x0D
	default:
		return CardInvalid, fmt.Errorf("invalid rank: %s", cardStr[:idx])
	}

	return Card(byte(suit)<<4) + rankVal, nil
}
