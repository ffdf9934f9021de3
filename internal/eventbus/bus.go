// Package eventbus is an in-process publisher for session events.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blecm/internal/groutine"
	"github.com/srg/blecm/internal/ringchan"
)

// Event is one published session event
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// Handler consumes events on the subscription's own goroutine
type Handler func(ev Event)

type subscription struct {
	id      uint64
	topic   string // empty: every topic
	handler Handler
	queue   *ringchan.RingChannel[Event]
	cancel  context.CancelFunc
	done    chan struct{}
}

// Bus fans published events out to subscribers. Publish never blocks: each
// subscription owns a bounded queue drained by its own goroutine, so events
// reach a handler in publish order and a slow handler only loses its own
// oldest events.
type Bus struct {
	mu        sync.RWMutex
	subs      map[uint64]*subscription
	nextID    atomic.Uint64
	closed    atomic.Bool
	queueSize int
	logger    *logrus.Logger
}

// New creates a bus whose subscriptions buffer up to queueSize events
func New(queueSize int, logger *logrus.Logger) *Bus {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:      make(map[uint64]*subscription),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Publish implements session.Publisher
func (b *Bus) Publish(topic string, payload any) {
	if b.closed.Load() {
		return
	}
	ev := Event{Topic: topic, Payload: payload, At: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topic != "" && sub.topic != topic {
			continue
		}
		if sub.queue.Send(ev) {
			b.logger.WithFields(logrus.Fields{
				"topic":        topic,
				"subscription": sub.id,
			}).Warn("Subscriber lagging, oldest event dropped")
		}
	}
}

// Subscribe registers h for one topic and returns the unsubscribe function
func (b *Bus) Subscribe(topic string, h Handler) func() {
	return b.add(topic, h)
}

// SubscribeAll registers h for every topic and returns the unsubscribe function
func (b *Bus) SubscribeAll(h Handler) func() {
	return b.add("", h)
}

func (b *Bus) add(topic string, h Handler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		id:      b.nextID.Add(1),
		topic:   topic,
		handler: h,
		queue:   ringchan.New[Event](b.queueSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	groutine.Go(ctx, "eventbus-subscriber", func(ctx context.Context) {
		b.run(ctx, sub)
	})

	return func() {
		b.mu.Lock()
		_, ok := b.subs[sub.id]
		delete(b.subs, sub.id)
		b.mu.Unlock()
		if ok {
			sub.cancel()
			<-sub.done
		}
	}
}

// run delivers queued events until ctx ends, then drains what is left
func (b *Bus) run(ctx context.Context, sub *subscription) {
	defer close(sub.done)
	for {
		ev, err := sub.queue.Receive(ctx)
		if err != nil {
			break
		}
		b.deliver(sub, ev)
	}
	for {
		ev, ok := sub.queue.TryReceive()
		if !ok {
			return
		}
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(logrus.Fields{
				"topic": ev.Topic,
				"panic": r,
			}).Error("Event handler panicked")
		}
	}()
	sub.handler(ev)
}

// Close stops accepting events, delivers what is queued and waits for
// every subscriber to finish. Close is idempotent.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for id, sub := range b.subs {
		subs = append(subs, sub)
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		<-sub.done
	}
}
