// Package event provides the chat engine's pub/sub bus, built on watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"

	"github.com/DmytroChyzh/ciedenmanager/internal/logging"
)

// Topic is the watermill topic every event is forwarded to.
const Topic = "chat.events"

// StreamBuffer is how many events a stream consumer may fall behind before
// the bus drops it.
const StreamBuffer = 256

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus delivers events to in-process subscribers by direct call, keeping the
// typed payload, and forwards a JSON copy to a watermill gochannel topic for
// stream consumers such as the SSE endpoint.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel
	log    zerolog.Logger

	subscribers map[EventType][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,

				// Keeps stream order equal to publish order. Stream acks
				// on receipt, so this only waits for the relay goroutine.
				BlockPublishUntilSubscriberAck: true,
			},
			watermill.NopLogger{},
		),
		log:         logging.Component("event"),
		subscribers: make(map[EventType][]subscriberEntry),
	}
}

func (b *Bus) newID() uint64 {
	return atomic.AddUint64(&b.nextID, 1)
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	id := b.newID()
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Stream subscribes to the watermill topic. Each message payload is the
// JSON encoding of an Event. Messages are acked on the consumer's behalf and
// queued in a buffer of StreamBuffer. A consumer that lets the buffer fill is
// dropped and its channel closed. The channel also closes when ctx is done or
// the bus is closed.
func (b *Bus) Stream(ctx context.Context) (<-chan *message.Message, error) {
	subCtx, cancel := context.WithCancel(ctx)
	in, err := b.pubsub.Subscribe(subCtx, Topic)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan *message.Message, StreamBuffer)
	go b.relay(in, out, cancel)
	return out, nil
}

// relay moves messages from a gochannel subscription into out, in order.
func (b *Bus) relay(in <-chan *message.Message, out chan<- *message.Message, cancel context.CancelFunc) {
	defer close(out)
	defer cancel()

	for msg := range in {
		msg.Ack()
		select {
		case out <- msg:
		default:
			b.log.Warn().Int("buffer", cap(out)).Msg("stream consumer fell behind, dropping it")
			cancel()
			for rest := range in {
				rest.Ack()
			}
			return
		}
	}
}

// PublishSync calls every subscriber in the current goroutine before
// returning, then forwards the event to the stream topic. Subscribers must
// not block or publish re-entrantly.
func (b *Bus) PublishSync(event Event) {
	subs, ok := b.collect(event.Type)
	if !ok {
		return
	}
	for _, sub := range subs {
		sub(event)
	}
	b.forward(event)
}

func (b *Bus) collect(eventType EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, false
	}

	subs := make([]Subscriber, 0, len(b.subscribers[eventType])+len(b.global))
	for _, entry := range b.subscribers[eventType] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	return subs, true
}

func (b *Bus) forward(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to encode event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(event.Type))
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		b.log.Debug().Err(err).Str("type", string(event.Type)).Msg("failed to forward event")
	}
}

// Close closes the bus and all its subscribers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[EventType][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
