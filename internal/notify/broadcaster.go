// Package notify fans state changes out to observers from a single
// dispatcher goroutine, so every observer sees changes in publish order.
package notify

import (
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 32

// Broadcaster delivers published values to all subscribers.
// A subscriber that falls behind by more than its buffer loses values.
type Broadcaster[T any] struct {
	in     chan T
	done   chan struct{}
	closed chan struct{}
	buffer int
	logger *log.Logger

	mu     sync.Mutex
	subs   map[uint64]chan T
	nextID uint64
	once   sync.Once
}

// New starts a broadcaster with the given per-subscriber buffer.
func New[T any](buffer int, logger *log.Logger) *Broadcaster[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &Broadcaster[T]{
		in:     make(chan T, buffer),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
		buffer: buffer,
		logger: logger,
		subs:   make(map[uint64]chan T),
	}
	go b.dispatch()
	return b
}

// Subscribe registers an observer. The returned cancel func is idempotent and
// closes the channel.
func (b *Broadcaster[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, b.buffer)

	b.mu.Lock()
	select {
	case <-b.done:
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish queues v for delivery. It never blocks on a slow subscriber and is a
// no-op after Close.
func (b *Broadcaster[T]) Publish(v T) {
	select {
	case <-b.done:
		return
	default:
	}
	select {
	case b.in <- v:
	case <-b.done:
	}
}

// Close stops the dispatcher and closes every subscriber channel.
func (b *Broadcaster[T]) Close() {
	b.once.Do(func() {
		close(b.done)
		<-b.closed
	})
}

func (b *Broadcaster[T]) dispatch() {
	defer close(b.closed)
	for {
		select {
		case v := <-b.in:
			b.deliver(v)
		case <-b.done:
			b.mu.Lock()
			for id, ch := range b.subs {
				delete(b.subs, id)
				close(ch)
			}
			b.mu.Unlock()
			return
		}
	}
}

func (b *Broadcaster[T]) deliver(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.logger.Debug("Dropping event for slow subscriber", "subscriber", id)
		}
	}
}
