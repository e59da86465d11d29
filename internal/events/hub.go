// Package events fans out change notifications to observers. Publishing
// never blocks: a subscriber that falls behind loses events rather than
// stalling the discovery or polling loops.
package events

import (
	"sync"

	"github.com/google/uuid"

	"github.com/cascadeview/backend/internal/types"
)

// Type tags an outbound notification.
type Type string

const (
	// TypeSessionList carries the updated session list after a scan.
	TypeSessionList Type = "session_list_changed"
	// TypeSnapshot signals new content for one session.
	TypeSnapshot Type = "snapshot_changed"
	// TypeIdle is the one-shot attention alert for a quiet session.
	TypeIdle Type = "idle"
)

// Event is one outbound notification.
type Event struct {
	Type      Type                `json:"type"`
	SessionID string              `json:"session_id,omitempty"`
	Sessions  []types.SessionInfo `json:"sessions,omitempty"`
}

const subscriberBuffer = 32

// Hub distributes events to subscribers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe registers an observer. The returned cancel func must be
// called exactly once; the channel closes after cancellation.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	id := uuid.New().String()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Count returns the number of live subscribers. Idle alerts are gated
// on this being non-zero.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish delivers an event to every subscriber, dropping it for any
// whose buffer is full.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
