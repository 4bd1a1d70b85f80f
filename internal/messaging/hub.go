package messaging

import (
	"sync"

	"github.com/antfarm-network/antfarm/internal/storage"
)

const subscriberBuffer = 32

// Hub fans new room messages out to live subscribers. Delivery is best-effort: a
// subscriber whose buffer is full misses the message and catches up by polling.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch chan *storage.MessageView
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers for roomID's messages. Call cancel to unsubscribe; the channel
// is closed afterwards.
func (h *Hub) Subscribe(roomID string) (<-chan *storage.MessageView, func()) {
	sub := &subscriber{ch: make(chan *storage.MessageView, subscriberBuffer)}
	h.mu.Lock()
	subs := h.rooms[roomID]
	if subs == nil {
		subs = make(map[*subscriber]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.rooms[roomID], sub)
			if len(h.rooms[roomID]) == 0 {
				delete(h.rooms, roomID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers m to every subscriber of roomID without blocking. It returns the
// number of subscribers that received it.
func (h *Hub) Publish(roomID string, m *storage.MessageView) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for sub := range h.rooms[roomID] {
		select {
		case sub.ch <- m:
			n++
		default:
		}
	}
	return n
}

// Subscribers reports how many live subscribers roomID has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
