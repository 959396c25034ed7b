package event

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

// Bus fans events out to subscribers.
type Bus interface {
	// Publish delivers an event to every matching subscription.
	Publish(ctx context.Context, evt Event) error

	// Subscribe registers a handler for the given event types. An
	// empty type list subscribes to everything.
	Subscribe(types []Type, handler HandlerFunc) (*Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the per-subscription channel buffer.
	// Default: 256.
	BufferSize int

	// NonBlocking drops events for subscriptions whose buffer is
	// full instead of blocking the publisher. Engines publishing
	// from the superstep barrier should set this.
	NonBlocking bool

	// OnDrop is invoked when NonBlocking discards an event.
	OnDrop func(evt Event, subscriptionID string)

	// OnError is invoked when a handler returns an error.
	OnError func(evt Event, subscriptionID string, err error)
}

// DefaultBusConfig is the zero-tuning configuration.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is the in-process Bus implementation. Each subscription
// owns a buffered channel and a delivery goroutine, so handlers never
// run on the publisher's goroutine.
type LocalBus struct {
	config BusConfig

	mu        sync.RWMutex
	byID      map[string]*Subscription
	byType    map[Type]map[string]*Subscription
	wildcards map[string]*Subscription

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBus creates a LocalBus with the given configuration.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{
		config:    config,
		byID:      make(map[string]*Subscription),
		byType:    make(map[Type]map[string]*Subscription),
		wildcards: make(map[string]*Subscription),
		closeCh:   make(chan struct{}),
	}
}

// Subscription is an active registration on a LocalBus.
type Subscription struct {
	id      string
	types   []Type
	handler HandlerFunc
	events  chan Event
	paused  atomic.Bool
	done    chan struct{}
	once    sync.Once
	bus     *LocalBus
}

// Publish delivers evt to every subscription matching its type.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.mu.RLock()
	subs := b.matching(evt.Type)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.paused.Load() {
			continue
		}
		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			continue
		}
		select {
		case sub.events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closeCh:
			return ErrBusClosed
		}
	}
	return nil
}

// Subscribe registers handler for the given types; an empty or nil
// list matches all events.
func (b *LocalBus) Subscribe(types []Type, handler HandlerFunc) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("event: nil handler")
	}
	if b.closed.Load() {
		return nil, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:      strconv.FormatInt(b.nextID.Add(1), 10),
		types:   types,
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	b.byID[sub.id] = sub

	if len(types) == 0 {
		b.wildcards[sub.id] = sub
	} else {
		for _, t := range types {
			if b.byType[t] == nil {
				b.byType[t] = make(map[string]*Subscription)
			}
			b.byType[t][sub.id] = sub
		}
	}

	go sub.process()
	return sub, nil
}

func (b *LocalBus) matching(typ Type) []*Subscription {
	subs := make([]*Subscription, 0, len(b.wildcards))
	for _, sub := range b.byType[typ] {
		subs = append(subs, sub)
	}
	for _, sub := range b.wildcards {
		subs = append(subs, sub)
	}
	return subs
}

// Close shuts the bus down. Buffered events that have not been
// handled yet are discarded.
func (b *LocalBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.byID {
		sub.stop()
	}
	return nil
}

func (s *Subscription) process() {
	for {
		select {
		case evt := <-s.events:
			if s.paused.Load() {
				continue
			}
			if err := s.handler(context.Background(), evt); err != nil {
				if s.bus.config.OnError != nil {
					s.bus.config.OnError(evt, s.id, err)
				}
			}
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Unsubscribe removes the subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.byID, s.id)
	delete(s.bus.wildcards, s.id)
	for _, t := range s.types {
		if typeSubs, ok := s.bus.byType[t]; ok {
			delete(typeSubs, s.id)
		}
	}
	s.bus.mu.Unlock()

	s.stop()
}

// Pause stops delivery until Resume. Events published while paused
// are not queued for this subscription.
func (s *Subscription) Pause() {
	s.paused.Store(true)
}

// Resume re-enables delivery after Pause.
func (s *Subscription) Resume() {
	s.paused.Store(false)
}

// IsPaused reports whether the subscription is paused.
func (s *Subscription) IsPaused() bool {
	return s.paused.Load()
}
