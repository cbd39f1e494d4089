package events

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Publisher sends a payload on a broker topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// BrokerForwarder mirrors bus events to a message broker on the topic
// "{prefix}/{session}/{type}". Events are queued and published from a single
// goroutine so a slow broker never stalls the bus; when the queue is full
// events are dropped.
type BrokerForwarder struct {
	pub    Publisher
	prefix string
	queue  chan Event
	log    zerolog.Logger

	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	sent    atomic.Int64
}

// NewBrokerForwarder creates a forwarder. Call Start before publishing.
func NewBrokerForwarder(pub Publisher, prefix string, queueSize int, log zerolog.Logger) *BrokerForwarder {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &BrokerForwarder{
		pub:    pub,
		prefix: strings.TrimRight(prefix, "/"),
		queue:  make(chan Event, queueSize),
		log:    log.With().Str("component", "broker-forwarder").Logger(),
	}
}

// Topic returns the broker topic for e.
func (f *BrokerForwarder) Topic(e Event) string {
	return f.prefix + "/" + e.Session + "/" + e.Type
}

func (f *BrokerForwarder) Forward(e Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.queue <- e:
	default:
		f.dropped.Add(1)
	}
}

func (f *BrokerForwarder) Start() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		for e := range f.queue {
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			if err := f.pub.Publish(f.Topic(e), payload); err != nil {
				f.log.Warn().Err(err).Str("session", e.Session).Str("type", e.Type).Msg("broker publish failed")
				continue
			}
			f.sent.Add(1)
		}
	}()
}

// Stop drains the queue and waits for the publisher goroutine.
func (f *BrokerForwarder) Stop() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()
	f.wg.Wait()
	f.log.Info().
		Int64("sent", f.sent.Load()).
		Int64("dropped", f.dropped.Load()).
		Msg("broker forwarder stopped")
}
