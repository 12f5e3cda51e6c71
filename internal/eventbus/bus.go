package eventbus

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the channel capacity used when Subscribe gets zero.
const DefaultBuffer = 16

// Subscription is a handle returned by Subscribe.
type Subscription[T any] struct {
	id     uint64
	ch     chan T
	topics map[string]struct{}
}

// ID identifies the subscription inside its bus.
func (s *Subscription[T]) ID() uint64 { return s.id }

// C returns the delivery channel. It is closed on Unsubscribe or Close.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Delivery reports the outcome of a publish.
type Delivery struct {
	Delivered int
	Dropped   int
}

// Bus is a type-safe publish/subscribe bus for values of type T.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	topics map[string]map[*Subscription[T]]struct{}
	closed bool
	nextID atomic.Uint64
}

// New creates an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		subs:   map[*Subscription[T]]struct{}{},
		topics: map[string]map[*Subscription[T]]struct{}{},
	}
}

// Subscribe registers a subscriber with the given buffer size.
func (b *Bus[T]) Subscribe(buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription[T]{
		id:     b.nextID.Add(1),
		ch:     make(chan T, buffer),
		topics: map[string]struct{}{},
	}
	b.mu.Lock()
	if b.closed {
		close(s.ch)
	} else {
		b.subs[s] = struct{}{}
	}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes the subscriber from every topic and closes its channel.
func (b *Bus[T]) Unsubscribe(s *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	for topic := range s.topics {
		b.leaveLocked(s, topic)
	}
	delete(b.subs, s)
	close(s.ch)
}

// Join adds the subscriber to topic. It returns false when the subscriber
// was already a member or is no longer registered.
func (b *Bus[T]) Join(s *Subscription[T], topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return false
	}
	if _, ok := s.topics[topic]; ok {
		return false
	}
	members := b.topics[topic]
	if members == nil {
		members = map[*Subscription[T]]struct{}{}
		b.topics[topic] = members
	}
	members[s] = struct{}{}
	s.topics[topic] = struct{}{}
	return true
}

// Leave removes the subscriber from topic. It returns false when the
// subscriber was not a member.
func (b *Bus[T]) Leave(s *Subscription[T], topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := s.topics[topic]; !ok {
		return false
	}
	b.leaveLocked(s, topic)
	return true
}

func (b *Bus[T]) leaveLocked(s *Subscription[T], topic string) {
	delete(s.topics, topic)
	members := b.topics[topic]
	delete(members, s)
	if len(members) == 0 {
		delete(b.topics, topic)
	}
}

// Topics returns the topics the subscriber has joined, sorted.
func (b *Bus[T]) Topics(s *Subscription[T]) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]string, 0, len(s.topics))
	for t := range s.topics {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// Members returns the number of subscribers joined to topic.
func (b *Bus[T]) Members(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// TopicCount returns the number of topics with at least one member.
func (b *Bus[T]) TopicCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// SubscriberCount returns the number of registered subscribers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish sends v to every subscriber.
func (b *Bus[T]) Publish(v T) Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var d Delivery
	if b.closed {
		return d
	}
	for s := range b.subs {
		d.add(trySend(s.ch, v))
	}
	return d
}

// PublishTo sends v once to every subscriber joined to any of topics.
func (b *Bus[T]) PublishTo(v T, topics ...string) Delivery {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var d Delivery
	if b.closed {
		return d
	}
	var seen map[*Subscription[T]]struct{}
	if len(topics) > 1 {
		seen = map[*Subscription[T]]struct{}{}
	}
	for _, topic := range topics {
		for s := range b.topics[topic] {
			if seen != nil {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
			}
			d.add(trySend(s.ch, v))
		}
	}
	return d
}

// Close closes the bus and all subscriber channels.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	b.subs = map[*Subscription[T]]struct{}{}
	b.topics = map[string]map[*Subscription[T]]struct{}{}
}

func (d *Delivery) add(ok bool) {
	if ok {
		d.Delivered++
	} else {
		d.Dropped++
	}
}

func trySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}
