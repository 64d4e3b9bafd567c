package ws

import (
	"sync"

	"github.com/cwrk-planet/muc-session/internal/service"
)

type Conn interface {
	Send(msg Message) error
	Close() error
	RoomID() string
}

// Hub: подписчики событий по ключу комнаты.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[Conn]struct{})}
}

func (h *Hub) Add(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[c.RoomID()]
	if !ok {
		rs = make(map[Conn]struct{})
		h.rooms[c.RoomID()] = rs
	}
	rs[c] = struct{}{}
}

func (h *Hub) Remove(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[c.RoomID()]; ok {
		delete(rs, c)
		if len(rs) == 0 {
			delete(h.rooms, c.RoomID())
		}
	}
}

func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Broadcast(room string, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.rooms[room] {
		_ = c.Send(msg) // best-effort
	}
}

// Publish: наблюдатель сессии: пересылает событие подписчикам комнаты.
func (h *Hub) Publish(ev service.Event) {
	h.Broadcast(ev.Room, Message{Type: TypeEvent, Payload: eventOf(ev)})
}
