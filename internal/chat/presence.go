package chat

import "sort"

// Presence maps each user to their live connection ids. A user is online
// iff the set is non-empty. It is owned by the hub loop and not locked.
type Presence struct {
	conns map[int]map[string]struct{}
}

func NewPresence() *Presence {
	return &Presence{conns: make(map[int]map[string]struct{})}
}

// Register adds connID and reports whether this was the user's first
// connection. Registering the same id twice changes nothing.
func (p *Presence) Register(userID int, connID string) (cameOnline bool) {
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	if _, dup := set[connID]; dup {
		return false
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// Unregister removes connID and reports whether the user has no connections
// left. Unknown ids are ignored.
func (p *Presence) Unregister(userID int, connID string) (wentOffline bool) {
	set, ok := p.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}
	delete(p.conns, userID)
	return true
}

func (p *Presence) IsOnline(userID int) bool {
	return len(p.conns[userID]) > 0
}

// OnlineUsers returns the online user ids in ascending order.
func (p *Presence) OnlineUsers() []int {
	ids := make([]int, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (p *Presence) Connections(userID int) int {
	return len(p.conns[userID])
}
