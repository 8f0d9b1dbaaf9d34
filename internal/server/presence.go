// Package server keeps the in-memory presence table: which connections are
// live in each group room and which connection holds each direct-chat slot.
package server

import "sort"

// presence is owned by the hub loop and is never touched concurrently.
type presence struct {
	groups      map[string]map[ConnectionID]struct{}
	roomsByConn map[ConnectionID]map[string]struct{}
	direct      map[string]ConnectionID
	slotsByConn map[ConnectionID]map[string]struct{}
}

func newPresence() *presence {
	return &presence{
		groups:      make(map[string]map[ConnectionID]struct{}),
		roomsByConn: make(map[ConnectionID]map[string]struct{}),
		direct:      make(map[string]ConnectionID),
		slotsByConn: make(map[ConnectionID]map[string]struct{}),
	}
}

// join adds conn to roomID and reports whether membership changed.
func (p *presence) join(roomID string, conn ConnectionID) bool {
	members, ok := p.groups[roomID]
	if !ok {
		members = make(map[ConnectionID]struct{})
		p.groups[roomID] = members
	}
	if _, ok := members[conn]; ok {
		return false
	}
	members[conn] = struct{}{}
	addIndex(p.roomsByConn, conn, roomID)
	return true
}

// leave removes conn from roomID and reports whether it was a member.
// A room with no members left is dropped.
func (p *presence) leave(roomID string, conn ConnectionID) bool {
	members, ok := p.groups[roomID]
	if !ok {
		return false
	}
	if _, ok := members[conn]; !ok {
		return false
	}
	delete(members, conn)
	if len(members) == 0 {
		delete(p.groups, roomID)
	}
	removeIndex(p.roomsByConn, conn, roomID)
	return true
}

func (p *presence) members(roomID string) []ConnectionID {
	members := p.groups[roomID]
	out := make([]ConnectionID, 0, len(members))
	for conn := range members {
		out = append(out, conn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *presence) roomsOf(conn ConnectionID) []string {
	return sortedKeys(p.roomsByConn[conn])
}

func (p *presence) roomCount() int {
	return len(p.groups)
}

// bindDirect points userID's slot at conn. It returns the connection that
// held the slot before, if any.
func (p *presence) bindDirect(userID string, conn ConnectionID) (ConnectionID, bool) {
	prev, had := p.direct[userID]
	if had && prev != conn {
		removeIndex(p.slotsByConn, prev, userID)
	}
	p.direct[userID] = conn
	addIndex(p.slotsByConn, conn, userID)
	return prev, had
}

func (p *presence) slot(userID string) (ConnectionID, bool) {
	conn, ok := p.direct[userID]
	return conn, ok
}

// releaseSlots deletes every direct slot held by conn and returns the user
// identifiers that were released.
func (p *presence) releaseSlots(conn ConnectionID) []string {
	users := sortedKeys(p.slotsByConn[conn])
	for _, userID := range users {
		delete(p.direct, userID)
	}
	delete(p.slotsByConn, conn)
	return users
}

func addIndex(index map[ConnectionID]map[string]struct{}, conn ConnectionID, key string) {
	set, ok := index[conn]
	if !ok {
		set = make(map[string]struct{})
		index[conn] = set
	}
	set[key] = struct{}{}
}

func removeIndex(index map[ConnectionID]map[string]struct{}, conn ConnectionID, key string) {
	set, ok := index[conn]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(index, conn)
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
