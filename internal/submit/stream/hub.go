// Package stream fans submission status changes out to websocket
// subscribers.
package stream

import (
	"sync"

	"gavel/internal/message"
)

// Event is one status change pushed to subscribers.
type Event struct {
	SubmissionID int64          `json:"submissionId"`
	Status       message.Status `json:"status"`
}

// Hub routes status events to per-submission subscribers. Slow subscribers
// lose events instead of blocking the listeners; clients reconcile by
// re-reading the submission.
type Hub struct {
	mu   sync.RWMutex
	subs map[int64]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[chan Event]struct{})}
}

// Subscribe registers interest in one submission. The returned cancel must be
// called when the client disconnects.
func (h *Hub) Subscribe(submissionID int64) (<-chan Event, func()) {
	ch := make(chan Event, 8)
	h.mu.Lock()
	if h.subs[submissionID] == nil {
		h.subs[submissionID] = make(map[chan Event]struct{})
	}
	h.subs[submissionID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[submissionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, submissionID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast delivers a status change to every subscriber of the submission.
// Full subscriber buffers are skipped.
func (h *Hub) Broadcast(submissionID int64, status message.Status) {
	event := Event{SubmissionID: submissionID, Status: status}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[submissionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
