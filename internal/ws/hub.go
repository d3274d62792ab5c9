// Package ws is the realtime side of the API: per-token chat rooms and the
// live trade feed, over a single WebSocket endpoint.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

// Hub manages room-level state with lazy creation and concurrent access.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewHub() *Hub { return &Hub{rooms: make(map[string]*Room)} }

// Room returns the room for a token, creating it on first use.
func (h *Hub) Room(tokenHash string) *Room {
	tokenHash = domain.NormalizeHash(tokenHash)

	h.mu.RLock()
	room := h.rooms[tokenHash]
	h.mu.RUnlock()
	if room != nil {
		return room
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[tokenHash]
	if room != nil {
		return room
	}
	room = &Room{tokenHash: tokenHash, members: make(map[*Client]bool)}
	h.rooms[tokenHash] = room
	return room
}

// MemberCount returns how many clients are in a token's room.
func (h *Hub) MemberCount(tokenHash string) int {
	h.mu.RLock()
	room := h.rooms[domain.NormalizeHash(tokenHash)]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.MemberCount()
}

// BroadcastTrade pushes a live trade to everyone in the token's room.
func (h *Hub) BroadcastTrade(trade *domain.Trade) {
	h.mu.RLock()
	room := h.rooms[trade.TokenHash]
	h.mu.RUnlock()
	if room == nil {
		return
	}

	payload, err := json.Marshal(tradeEvent{
		Type:        "new_transaction",
		TokenHash:   trade.TokenHash,
		Transaction: trade,
	})
	if err != nil {
		return
	}
	room.broadcast(payload)
}

// Room holds the live members of one token's chat.
type Room struct {
	tokenHash string

	mu      sync.Mutex
	members map[*Client]bool
}

// MemberCount returns the number of connected members.
func (r *Room) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// add registers a client and returns the new member count
func (r *Room) add(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[c] = true
	return len(r.members)
}

// remove drops a client and returns the remaining member count
func (r *Room) remove(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, c)
	return len(r.members)
}

// broadcast delivers payload to every member. A member whose send buffer is
// full misses the message rather than blocking the room.
func (r *Room) broadcast(payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for member := range r.members {
		select {
		case member.send <- payload:
		default:
		}
	}
}

// broadcastExcept is broadcast minus one member
func (r *Room) broadcastExcept(skip *Client, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for member := range r.members {
		if member == skip {
			continue
		}
		select {
		case member.send <- payload:
		default:
		}
	}
}
