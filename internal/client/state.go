// Package client implements the room session core: socket lifecycle,
// message reconciliation and typing state for one chat room at a time.
package client

import "sync"

// State is the connection lifecycle. Transitions are strictly
// disconnected -> connecting -> connected, with any failure dropping
// back to disconnected.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// broadcaster fans events out to every subscriber. Multicast, no
// replay: late subscribers do not receive history. Slow subscribers
// get events dropped rather than blocking the read loop, same policy
// as a hub skipping a full client channel.
type broadcaster[T any] struct {
	mu   sync.Mutex
	subs map[int]chan T
	next int
}

func (b *broadcaster[T]) subscribe(buffer int) (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[int]chan T)
	}

	id := b.next
	b.next++
	ch := make(chan T, buffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster[T]) publish(event T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		select {
		case sub <- event:
		default:
		}
	}
}
