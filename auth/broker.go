package auth

import (
	"encoding/json"
	"log"
	"runtime/debug"
	"sync"

	"github.com/go-redis/redis"
)

// SessionPubSubChannel is the redis channel session events travel on.
const SessionPubSubChannel = "sessions"

// EventKind is the enum for session lifecycle events
type EventKind int

// EventKind enum instances
const (
	EventSignedIn EventKind = iota
	EventSignedOut
)

func (k EventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event describes a change of the current session.
type Event struct {
	Kind  EventKind `json:"kind"`
	Email string    `json:"email"`
	Token string    `json:"token"`
}

// Broker fans session events out to subscribers. Subscribe returns the
// function that removes the subscription.
type Broker interface {
	Publish(e Event)
	Subscribe(h func(Event)) (unsubscribe func())
}

type memBroker struct {
	mu       sync.RWMutex
	handlers map[int]func(Event)
	nextID   int
}

// NewBroker creates an in-process broker. Handlers run synchronously on
// the publishing goroutine.
func NewBroker() Broker {
	return &memBroker{handlers: make(map[int]func(Event))}
}

func (b *memBroker) Publish(e Event) {
	b.mu.RLock()
	hs := make([]func(Event), 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	for _, h := range hs {
		dispatch(h, e)
	}
}

func dispatch(h func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session event handler panic for %s: %v\nStack: %s", e.Kind, r, debug.Stack())
		}
	}()
	h(e)
}

func (b *memBroker) Subscribe(h func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// RedisBroker publishes session events on a redis channel and delivers
// every event seen on the channel, including its own, to local subscribers.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  Broker
	done   chan struct{}
}

// NewRedisBroker subscribes to SessionPubSubChannel and starts delivering.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	b := &RedisBroker{
		client: client,
		pubsub: client.Subscribe(SessionPubSubChannel),
		local:  NewBroker(),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *RedisBroker) run() {
	defer close(b.done)
	ch := b.pubsub.Channel()
	for m := range ch {
		var e Event
		if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
			log.Printf("invalid session event %s", m.Payload)
			continue
		}
		b.local.Publish(e)
	}
}

// Publish sends e to every process subscribed to the channel.
func (b *RedisBroker) Publish(e Event) {
	msg, _ := json.Marshal(&e)
	if err := b.client.Publish(SessionPubSubChannel, string(msg)).Err(); err != nil {
		log.Printf("publish session event %s: %v", e.Kind, err)
	}
}

// Subscribe registers a local handler.
func (b *RedisBroker) Subscribe(h func(Event)) func() {
	return b.local.Subscribe(h)
}

// Close stops the subscription loop.
func (b *RedisBroker) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
