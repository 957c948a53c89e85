// Package progress fans out live sync-state snapshots to observers. The
// engine is the only producer; it never subscribes to its own output, and a
// publish never blocks the transfer path.
package progress

import (
	"sync"

	"github.com/skysync/skysync/internal/types"
)

// Broadcaster is a single-producer, multi-consumer stream of immutable
// SyncState snapshots. Each subscriber holds a one-slot buffer; a slow
// subscriber skips intermediate snapshots and sees only the latest.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan types.SyncState
	nextID int
	last   *types.SyncState
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan types.SyncState),
	}
}

// Subscribe registers an observer. The returned cancel function must be
// called to release the subscription. New subscribers immediately receive
// the most recent snapshot, if any.
func (b *Broadcaster) Subscribe() (<-chan types.SyncState, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan types.SyncState, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	if b.last != nil {
		ch <- *b.last
	}

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

// Publish pushes a snapshot to all subscribers without blocking. A full
// subscriber buffer is drained first so the latest snapshot always wins.
func (b *Broadcaster) Publish(state types.SyncState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	snapshot := state
	b.last = &snapshot

	for _, ch := range b.subs {
		select {
		case ch <- state:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Last returns the most recently published snapshot, if any.
func (b *Broadcaster) Last() (types.SyncState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		return types.SyncState{}, false
	}
	return *b.last, true
}

// Close terminates all subscriptions. Publish becomes a no-op.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
