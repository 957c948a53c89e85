package progress

import (
	"testing"

	"github.com/skysync/skysync/internal/types"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(types.SyncState{AccountID: "a", CompletedItems: 1})

	s1 := <-ch1
	s2 := <-ch2
	if s1.CompletedItems != 1 || s2.CompletedItems != 1 {
		t.Errorf("subscribers got %+v and %+v", s1, s2)
	}
}

func TestBroadcaster_SlowSubscriberGetsLatest(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe()
	defer cancel()

	// Publish repeatedly without the subscriber reading; publishes must not
	// block and the subscriber must end up with the newest snapshot.
	for i := 1; i <= 50; i++ {
		b.Publish(types.SyncState{CompletedItems: i})
	}

	got := <-ch
	if got.CompletedItems != 50 {
		t.Errorf("got snapshot %d, want latest (50)", got.CompletedItems)
	}
}

func TestBroadcaster_NewSubscriberSeesLastSnapshot(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	b.Publish(types.SyncState{CompletedItems: 7})

	ch, cancel := b.Subscribe()
	defer cancel()

	got := <-ch
	if got.CompletedItems != 7 {
		t.Errorf("late subscriber got %d, want 7", got.CompletedItems)
	}
}

func TestBroadcaster_CancelStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("cancelled subscription channel should be closed")
	}

	// Publishing after cancel must not panic.
	b.Publish(types.SyncState{CompletedItems: 1})
}

func TestBroadcaster_CloseIsTerminal(t *testing.T) {
	b := NewBroadcaster()
	ch, _ := b.Subscribe()
	b.Close()

	if _, ok := <-ch; ok {
		t.Error("Close should close subscriber channels")
	}

	b.Publish(types.SyncState{}) // no-op, no panic

	ch2, _ := b.Subscribe()
	if _, ok := <-ch2; ok {
		t.Error("subscriptions after Close should be immediately closed")
	}
}
