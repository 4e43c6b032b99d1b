package bus_test

import (
	"sort"
	"sync"
	"testing"

	"taskforge/internal/bus"
	"taskforge/internal/domain"
)

func TestPublishAssignsGaplessIDs(t *testing.T) {
	b := bus.New(0)
	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	ids := make(chan int64, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				evt := b.Publish(domain.Event{Type: "test"})
				ids <- evt.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	var got []int64
	for id := range ids {
		got = append(got, id)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("expected gapless ids, got %d at position %d", id, i)
		}
	}
	if b.LastID() != int64(goroutines*perGoroutine) {
		t.Fatalf("LastID = %d, want %d", b.LastID(), goroutines*perGoroutine)
	}
}

func TestBufferEviction(t *testing.T) {
	b := bus.New(10)
	for i := 0; i < 25; i++ {
		b.Publish(domain.Event{Type: "test"})
	}
	recent := b.Recent(0)
	if len(recent) != 10 {
		t.Fatalf("buffered %d events, want 10", len(recent))
	}
	if recent[0].ID != 16 || recent[9].ID != 25 {
		t.Fatalf("buffer window = [%d,%d], want [16,25]", recent[0].ID, recent[9].ID)
	}
}

func TestSince(t *testing.T) {
	b := bus.New(0)
	for i := 0; i < 5; i++ {
		b.Publish(domain.Event{Type: "test"})
	}
	got := b.Since(3)
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("Since(3) = %v", got)
	}
	if len(b.Since(5)) != 0 {
		t.Fatalf("Since(last) should be empty")
	}
}

func TestSubscriberPanicDoesNotBreakOthers(t *testing.T) {
	b := bus.New(0)
	b.Subscribe(func(domain.Event) { panic("boom") })
	var seen int
	b.Subscribe(func(domain.Event) { seen++ })

	b.Publish(domain.Event{Type: "test"})
	b.Publish(domain.Event{Type: "test"})
	if seen != 2 {
		t.Fatalf("second subscriber saw %d events, want 2", seen)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := bus.New(0)
	var seen int
	cancel := b.Subscribe(func(domain.Event) { seen++ })
	b.Publish(domain.Event{Type: "test"})
	cancel()
	b.Publish(domain.Event{Type: "test"})
	if seen != 1 {
		t.Fatalf("subscriber saw %d events after unsubscribe, want 1", seen)
	}
}

func TestPublishDefaults(t *testing.T) {
	b := bus.New(0)
	evt := b.Publish(domain.Event{Type: "test"})
	if evt.Payload == nil {
		t.Fatalf("expected non-nil payload")
	}
	if evt.CreatedAt == "" {
		t.Fatalf("expected created_at to be set")
	}
}
