// Package event carries orchestrator occurrences from the services that
// produce them to API subscribers. Publishing never blocks: a subscriber
// whose channel is full loses the event rather than stalling the producer.
package event

import "sync"

const defaultSubscriberBuffer = 64

// Bus is a fan-out channel hub. The zero value is unusable; construct
// with NewBus. Safe for concurrent use.
type Bus struct {
	mu          sync.Mutex
	subscribers map[uint64]chan Event
	nextID      uint64
	closed      bool
	bufferSize  int
}

func NewBus() *Bus {
	return NewBusWithBuffer(defaultSubscriberBuffer)
}

func NewBusWithBuffer(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &Bus{
		subscribers: make(map[uint64]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a receiver and returns its channel plus an
// unsubscribe func. The channel is closed on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	if b == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with buffer room.
func (b *Bus) Publish(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
