// Package notify fans note changes out to interested components. The engine
// publishes every applied change; each subscriber (the SSE bridge today) gets
// its own buffered channel.
package notify

import (
	"sync/atomic"

	"github.com/starford/othala/internal/models"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind starts losing changes rather than stalling the bus.
const subscriberBuffer = 64

// Bus broadcasts note changes.
//
// Concurrency model: a single internal goroutine owns the subscriber set.
// Public methods talk to it through channels, so no mutexes are required.
type Bus struct {
	subscribeCh   chan chan models.Change
	unsubscribeCh chan chan models.Change
	publishCh     chan models.Change

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBus creates a bus and starts its loop.
func NewBus() *Bus {
	b := &Bus{
		subscribeCh:   make(chan chan models.Change),
		unsubscribeCh: make(chan chan models.Change),
		publishCh:     make(chan models.Change, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	defer close(b.stopped)

	subs := make(map[chan models.Change]struct{})

	for {
		select {
		case <-b.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case change := <-b.publishCh:
			for ch := range subs {
				select {
				case ch <- change:
				default:
					// Subscriber buffer full; skip to avoid blocking the loop.
				}
			}
		}
	}
}

// Subscribe adds a subscriber and returns its channel. The channel is closed
// on Unsubscribe or bus close.
func (b *Bus) Subscribe() chan models.Change {
	ch := make(chan models.Change, subscriberBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan models.Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// Publish broadcasts a change to all subscribers. Never blocks on a slow
// subscriber.
func (b *Bus) Publish(change models.Change) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- change:
	case <-b.stopped:
	}
}

// Close stops the loop and closes all subscriber channels.
func (b *Bus) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}
