// Package events allows goroutines to register for and receive the raw
// simulation event stream.
package events

import (
	"fmt"
	"sync"
)

// subscriberBuffer is the number of events held for a subscriber that is
// slow to receive. Events past the buffer are dropped, never blocked on.
const subscriberBuffer = 100

// Events maintains a mapping of unique ids and channels so goroutines
// can register and receive events.
type Events struct {
	subscribers map[string]chan string
	mu          sync.RWMutex
}

// New constructs an Events value for registering and receiving events.
func New() *Events {
	return &Events{
		subscribers: make(map[string]chan string),
	}
}

// Shutdown closes and removes all channels that were provided by
// calls to Acquire.
func (evt *Events) Shutdown() {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	for id, ch := range evt.subscribers {
		delete(evt.subscribers, id)
		close(ch)
	}
}

// Acquire takes a unique id and returns a channel that can be used
// to receive events.
func (evt *Events) Acquire(id string) chan string {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.subscribers[id]
	if exists {
		return ch
	}

	evt.subscribers[id] = make(chan string, subscriberBuffer)
	return evt.subscribers[id]
}

// Release closes and removes the channel that was provided by
// the call to Acquire.
func (evt *Events) Release(id string) error {
	evt.mu.Lock()
	defer evt.mu.Unlock()

	ch, exists := evt.subscribers[id]
	if !exists {
		return fmt.Errorf("id %q does not exist", id)
	}

	delete(evt.subscribers, id)
	close(ch)
	return nil
}

// Send delivers the specified event to every registered channel. Send
// will not block waiting for a receiver on any given channel.
func (evt *Events) Send(s string) {
	evt.mu.RLock()
	defer evt.mu.RUnlock()

	for _, ch := range evt.subscribers {
		select {
		case ch <- s:
		default:
		}
	}
}
