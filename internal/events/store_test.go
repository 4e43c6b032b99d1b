package events_test

import (
	"context"
	"testing"
	"time"

	"taskforge/internal/bus"
	"taskforge/internal/db"
	"taskforge/internal/domain"
	"taskforge/internal/events"
	"taskforge/internal/migrate"
)

func newTestStore(t *testing.T) (*events.Store, *bus.Bus) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := &events.Store{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	b := bus.New(0)
	cancel := store.AttachTo(b)
	t.Cleanup(cancel)
	return store, b
}

func TestPublishedEventsArePersisted(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	b.Publish(domain.Event{Type: events.TypeTaskCreated, Category: events.CategoryTask, Message: "Task created: x", TaskID: domain.Ref(7)})
	b.Publish(domain.Event{Type: events.TypeTaskStarted, Category: events.CategoryTask, TaskID: domain.Ref(7)})

	last, err := store.LastID(ctx)
	if err != nil {
		t.Fatalf("last id: %v", err)
	}
	if last != 2 {
		t.Fatalf("last id = %d, want 2", last)
	}

	recent, err := store.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("got %d events, want 2", len(recent))
	}
	if recent[0].Type != events.TypeTaskStarted {
		t.Fatalf("newest first expected, got %s", recent[0].Type)
	}
	if recent[1].TaskID == nil || *recent[1].TaskID != 7 {
		t.Fatalf("task ref lost: %+v", recent[1])
	}
}

func TestEventsSince(t *testing.T) {
	store, b := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		b.Publish(domain.Event{Type: events.TypeWorkerHeartbeat, Category: events.CategoryWorker})
	}
	got, err := store.EventsSince(ctx, 2, 10)
	if err != nil {
		t.Fatalf("events since: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].ID != 3 || got[2].ID != 5 {
		t.Fatalf("ascending window = [%d,%d], want [3,5]", got[0].ID, got[2].ID)
	}
}

func TestEmptyLog(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	last, err := store.LastID(ctx)
	if err != nil {
		t.Fatalf("last id: %v", err)
	}
	if last != 0 {
		t.Fatalf("last id = %d, want 0", last)
	}
}
