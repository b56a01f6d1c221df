package chat

// pairKey identifies a conversation regardless of who started it.
type pairKey struct {
	lo, hi int
}

func newPairKey(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

func (k pairKey) other(userID int) int {
	if k.lo == userID {
		return k.hi
	}
	return k.lo
}

// Typing tracks who is typing in each two-user conversation. Like Presence
// it is owned by the hub loop.
type Typing struct {
	pairs map[pairKey]map[int]struct{}
}

func NewTyping() *Typing {
	return &Typing{pairs: make(map[pairKey]map[int]struct{})}
}

func (t *Typing) Start(userID, counterpartID int) {
	k := newPairKey(userID, counterpartID)
	set, ok := t.pairs[k]
	if !ok {
		set = make(map[int]struct{}, 2)
		t.pairs[k] = set
	}
	set[userID] = struct{}{}
}

// Stop reports whether userID was typing to counterpartID.
func (t *Typing) Stop(userID, counterpartID int) bool {
	k := newPairKey(userID, counterpartID)
	set, ok := t.pairs[k]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.pairs, k)
	}
	return true
}

func (t *Typing) IsTyping(userID, counterpartID int) bool {
	_, ok := t.pairs[newPairKey(userID, counterpartID)][userID]
	return ok
}

// ClearUser stops every indicator userID has open and returns the
// counterparts that must be told.
func (t *Typing) ClearUser(userID int) []int {
	var counterparts []int
	for k, set := range t.pairs {
		if _, ok := set[userID]; !ok {
			continue
		}
		delete(set, userID)
		if len(set) == 0 {
			delete(t.pairs, k)
		}
		counterparts = append(counterparts, k.other(userID))
	}
	return counterparts
}

func (t *Typing) Len() int {
	return len(t.pairs)
}
