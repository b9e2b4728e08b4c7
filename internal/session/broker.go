package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBuffer is the number of records queued per subscriber before
// records are dropped for it.
const subscriberBuffer = 128

// Subscriber receives the live records of one session.
type Subscriber struct {
	ID     string
	Events <-chan Record

	events chan Record
}

// Broker fans out the records of a session to its subscribers.
type Broker struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber
	closed      bool
	logger      *slog.Logger
}

// NewBroker creates a broker.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// Subscribe registers a subscriber. Its channel is closed by Unsubscribe or
// when the broker closes.
func (b *Broker) Subscribe() *Subscriber {
	ch := make(chan Record, subscriberBuffer)
	sub := &Subscriber{ID: uuid.NewString(), Events: ch, events: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber.
func (b *Broker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.events)
		delete(b.subscribers, id)
	}
}

// Publish sends rec to every subscriber without blocking.
func (b *Broker) Publish(rec Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		select {
		case sub.events <- rec:
		default:
			b.logger.Warn("subscriber channel full, dropping record",
				slog.String("subscriber_id", sub.ID),
				slog.String("kind", rec.Kind))
		}
	}
}

// Count returns the number of subscribers.
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close closes every subscriber channel. Later subscribers get a closed
// channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.events)
		delete(b.subscribers, id)
	}
}
