package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Type labels one kind of bridge lifecycle event.
type Type string

const (
	TypeTransactionUpdate Type = "transaction_update"
	TypeDepositLocked     Type = "deposit_locked"
	TypeDepositReleased   Type = "deposit_released"
	TypeDepositRefunded   Type = "deposit_refunded"
	TypeRelayUpdate       Type = "relay_update"
)

// Event is one bridge lifecycle notification.
type Event struct {
	Type      Type      `json:"type"`
	ChainID   string    `json:"chain_id,omitempty"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener receives events. Listeners run synchronously on the publisher's
// goroutine; slow listeners slow publishing, panicking listeners are
// isolated.
type Listener func(Event)

// Forwarder pushes events to an external transport (NATS, websockets).
type Forwarder interface {
	Forward(evt Event)
}

// Bus fans events out to in-process listeners and external forwarders. A
// listener failure never reaches the other listeners or the publisher.
type Bus struct {
	mu         sync.RWMutex
	listeners  map[uint64]Listener
	nextID     uint64
	forwarders []Forwarder
	logger     *logrus.Logger
}

// NewBus creates an event bus.
func NewBus(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bus{
		listeners: make(map[uint64]Listener),
		logger:    logger,
	}
}

// AddForwarder registers an external transport. Not safe to call after
// publishing starts.
func (b *Bus) AddForwarder(f Forwarder) {
	b.forwarders = append(b.forwarders, f)
}

// Subscribe registers a listener and returns its unsubscribe function.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

// Publish delivers an event to every listener and forwarder.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	listeners := make([]Listener, 0, len(b.listeners))
	for _, l := range b.listeners {
		listeners = append(listeners, l)
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		b.deliver(l, evt)
	}
	for _, f := range b.forwarders {
		f.Forward(evt)
	}
}

func (b *Bus) deliver(l Listener, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.WithFields(logrus.Fields{
				"event": evt.Type,
				"panic": rec,
			}).Error("Event listener panicked")
		}
	}()
	l(evt)
}
