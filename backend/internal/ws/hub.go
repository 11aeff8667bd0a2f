package ws

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// Hub is the process-local registry of sockets and room memberships.
// Rooms are created on first join and dropped when the last member leaves.
type Hub struct {
	log zerolog.Logger

	mu sync.RWMutex
	// 房间里存的是连接而不是 userID：同一用户可能开多个标签页
	rooms    map[string]map[*Conn]struct{}
	memberOf map[*Conn]map[string]struct{}
	// userID -> 本进程内的连接数，用于判断上线/下线
	users map[string]int
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		log:      log,
		rooms:    make(map[string]map[*Conn]struct{}),
		memberOf: make(map[*Conn]map[string]struct{}),
		users:    make(map[string]int),
	}
}

// Register adds c to the hub. first reports whether c is the user's only
// connection in this process.
func (h *Hub) Register(c *Conn) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.memberOf[c]; ok {
		return false
	}
	h.memberOf[c] = make(map[string]struct{})
	if uid := c.ident.UserID; uid != "" {
		h.users[uid]++
		first = h.users[uid] == 1
	}
	return first
}

// Unregister drops c from every room it joined in one step. last reports
// whether the user has no other connection left in this process.
func (h *Hub) Unregister(c *Conn) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.memberOf[c]
	if !ok {
		return false
	}
	for room := range rooms {
		h.removeLocked(room, c)
	}
	delete(h.memberOf, c)
	if uid := c.ident.UserID; uid != "" {
		h.users[uid]--
		if h.users[uid] <= 0 {
			delete(h.users, uid)
			last = true
		}
	}
	return last
}

// Join is a no-op for connections that are not registered.
func (h *Hub) Join(room string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rooms, ok := h.memberOf[c]
	if !ok {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Conn]struct{})
	}
	h.rooms[room][c] = struct{}{}
	rooms[room] = struct{}{}
}

func (h *Hub) Leave(room string, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if rooms, ok := h.memberOf[c]; ok {
		delete(rooms, room)
	}
	h.removeLocked(room, c)
}

func (h *Hub) removeLocked(room string, c *Conn) {
	if conns, ok := h.rooms[room]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Emit sends one frame to every connection in room. It never blocks:
// a member whose queue is full misses the frame.
func (h *Hub) Emit(room, event string, payload any) {
	h.EmitExcept(room, nil, event, payload)
}

func (h *Hub) EmitExcept(room string, except *Conn, event string, payload any) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	h.deliver(targets, event, payload)
}

func (h *Hub) Broadcast(event string, payload any) {
	h.deliver(h.conns(), event, payload)
}

func (h *Hub) deliver(targets []*Conn, event string, payload any) {
	if len(targets) == 0 {
		return
	}
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	for _, c := range targets {
		c.enqueue(frame)
	}
}

func (h *Hub) conns() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.memberOf))
	for c := range h.memberOf {
		out = append(out, c)
	}
	return out
}

func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.memberOf)
}

// RoomsOf lists the rooms c is in, sorted.
func (h *Hub) RoomsOf(c *Conn) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.memberOf[c]))
	for room := range h.memberOf[c] {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}
