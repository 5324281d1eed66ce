// Package events provides an in-process pub/sub hub for server events
// (panel replaced, run finished, run deleted) pushed to dashboards over SSE.
package events

import (
	"sync"
	"time"
)

// Event types.
const (
	TypePanel      = "panel"
	TypeRun        = "run"
	TypeRunDeleted = "run_deleted"
)

// Event is the wire format for SSE messages.
type Event struct {
	Seq  uint64    `json:"seq"`
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Hub fans events out to subscribers and keeps the most recent ones so a
// new subscriber can catch up.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	recent  []Event
	keep    int
	nextSub int
	subs    map[int]chan Event
	now     func() time.Time
}

// NewHub creates a Hub that retains the last keep events.
func NewHub(keep int) *Hub {
	if keep < 0 {
		keep = 0
	}
	return &Hub{
		keep: keep,
		subs: make(map[int]chan Event),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Publish stamps an event and sends it to every subscriber without
// blocking. Subscribers whose buffer is full miss the event.
func (h *Hub) Publish(typ string, data any) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	e := Event{Seq: h.seq, Type: typ, Time: h.now(), Data: data}
	if h.keep > 0 {
		h.recent = append(h.recent, e)
		if len(h.recent) > h.keep {
			h.recent = h.recent[len(h.recent)-h.keep:]
		}
	}
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// Subscribe registers a subscriber with the given buffer size. It returns
// the subscription id, the retained events with Seq > after, and the
// channel of subsequent events.
func (h *Hub) Subscribe(bufSize int, after uint64) (int, []Event, <-chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var backlog []Event
	for _, e := range h.recent {
		if e.Seq > after {
			backlog = append(backlog, e)
		}
	}
	ch := make(chan Event, bufSize)
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	return id, backlog, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
