package card

type CardList []Card

func (ds *CardList) Init(cards []Card) {
	*ds = make([]Card, len(cards))
	copy(*ds, cards)
}

// Count 获取总牌数
func (ds CardList) Count() int {
	return len(ds)
}

func (ds CardList) Contains(c Card) bool {
	for _, cc := range ds {
		if cc == c {
			return true
		}
	}
	return false
}

// ContainsSuit 判断是否持有某花色的牌
func (ds CardList) ContainsSuit(s Suit) bool {
	for _, cc := range ds {
		if cc.Suit() == s {
			return true
		}
	}
	return false
}

func (ds *CardList) Add(cards ...Card) {
	*ds = append(*ds, cards...)
}

// Remove 移除第一张匹配的牌；不存在时返回 false
func (ds *CardList) Remove(c Card) bool {
	for i, cc := range *ds {
		if cc == c {
			*ds = append((*ds)[:i], (*ds)[i+1:]...)
			return true
		}
	}
	return false
}

func (ds *CardList) PopCards(size int) ([]Card, bool) {
	if size > ds.Count() {
		return nil, false
	}
	cards := make([]Card, size)
	copy(cards, (*ds)[:size])
	*ds = (*ds)[size:]
	return cards, true
}

// Strings returns the wire form of every card, preserving order.
func (ds CardList) Strings() []string {
	out := make([]string, len(ds))
	for i, c := range ds {
		out[i] = c.String()
	}
	return out
}

// ParseList 解析一组 wire 形式的牌
func ParseList(strs []string) (CardList, error) {
	out := make(CardList, 0, len(strs))
	for _, s := range strs {
		c, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
