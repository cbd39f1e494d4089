package events

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quam/quam-engine/internal/metrics"
	"github.com/rs/zerolog"
)

// Event types published for a transcript flow.
const (
	TypeLoading  = "loading"
	TypeAppend   = "append"
	TypeFinal    = "final"
	TypeProgress = "progress"
	TypeClear    = "clear"
	TypeNotice   = "notice"
	TypeResult   = "result"
)

// Event is one update delivered to a session's subscribers.
type Event struct {
	ID        string          `json:"id"`
	Session   string          `json:"session"`
	RequestID string          `json:"request_id,omitempty"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Forwarder receives a copy of every published event.
type Forwarder interface {
	Forward(e Event)
}

// Bus provides per-session pub-sub for SSE subscribers.
// It keeps a ring buffer for replay on reconnect.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]subscriber
	nextID      uint64
	seq         atomic.Uint64
	forwarders  []Forwarder

	ring     []Event
	ringSize int
	ringHead int
	ringMu   sync.RWMutex

	log zerolog.Logger
}

type subscriber struct {
	ch      chan Event
	session string
}

// NewBus creates an event bus with the given ring buffer size.
func NewBus(ringSize int, log zerolog.Logger) *Bus {
	if ringSize <= 0 {
		ringSize = 1024
	}
	return &Bus{
		subscribers: make(map[uint64]subscriber),
		ring:        make([]Event, ringSize),
		ringSize:    ringSize,
		log:         log.With().Str("component", "events").Logger(),
	}
}

// AddForwarder registers f to receive every event. Call before publishing.
func (b *Bus) AddForwarder(f Forwarder) {
	b.mu.Lock()
	b.forwarders = append(b.forwarders, f)
	b.mu.Unlock()
}

// Subscribe registers a subscriber for one session and returns its channel
// and a cancel function.
func (b *Bus) Subscribe(session string) (<-chan Event, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subscribers[id] = subscriber{ch: ch, session: session}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount returns the number of open subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// ReplaySince returns buffered events for session after lastEventID. An
// empty lastEventID replays everything still buffered.
func (b *Bus) ReplaySince(session, lastEventID string) []Event {
	b.ringMu.RLock()
	defer b.ringMu.RUnlock()

	var events []Event
	found := lastEventID == ""

	for i := 0; i < b.ringSize; i++ {
		idx := (b.ringHead + i) % b.ringSize
		e := b.ring[idx]
		if e.ID == "" {
			continue
		}
		if !found {
			if e.ID == lastEventID {
				found = true
			}
			continue
		}
		if e.Session == session {
			events = append(events, e)
		}
	}
	return events
}

// Publish sends an event to the session's subscribers, the forwarders and
// the ring buffer.
func (b *Bus) Publish(session, requestID, typ string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn().Err(err).Str("type", typ).Msg("dropping unencodable event")
		return
	}

	seq := b.seq.Add(1)
	now := time.Now()
	event := Event{
		ID:        fmt.Sprintf("%d-%d", now.UnixMilli(), seq),
		Session:   session,
		RequestID: requestID,
		Type:      typ,
		Timestamp: now.UTC().Format(time.RFC3339),
		Data:      data,
	}

	b.ringMu.Lock()
	b.ring[b.ringHead] = event
	b.ringHead = (b.ringHead + 1) % b.ringSize
	b.ringMu.Unlock()

	b.mu.RLock()
	for _, sub := range b.subscribers {
		if sub.session != session {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Drop if subscriber is slow
		}
	}
	forwarders := b.forwarders
	b.mu.RUnlock()

	for _, f := range forwarders {
		f.Forward(event)
	}
	metrics.EventsPublishedTotal.Inc()
}
