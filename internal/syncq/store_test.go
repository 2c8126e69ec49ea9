package syncq

import (
	"path/filepath"
	"testing"

	"github.com/thecodeguy777/jlr-dashboard/internal/db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	qdb, err := db.OpenQueueDB(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue db: %v", err)
	}
	t.Cleanup(func() { qdb.Close() })

	store, err := NewStore(qdb)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestStoreInsertAndUnsynced(t *testing.T) {
	store := newTestStore(t)

	first, err := NewItem("driver-1", "gps_breadcrumbs", OpInsert, map[string]any{"id": "b1"})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	second, err := NewItem("driver-1", "session_logs", OpInsert, map[string]any{"id": "s1"})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	second.EnqueuedAt = first.EnqueuedAt.Add(1)

	if err := store.Insert(first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(second); err != nil {
		t.Fatalf("insert: %v", err)
	}

	items, err := store.Unsynced(50)
	if err != nil {
		t.Fatalf("unsynced: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != first.ID || items[1].ID != second.ID {
		t.Fatalf("items not returned oldest first")
	}
	if string(items[0].Payload) != string(first.Payload) {
		t.Fatalf("payload not preserved byte for byte")
	}

	count, err := store.PendingCount()
	if err != nil || count != 2 {
		t.Fatalf("pending count: %d %v", count, err)
	}
}

func TestStoreInsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	item, err := NewItem("driver-1", "gps_breadcrumbs", OpInsert, map[string]any{"id": "b1"})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if err := store.Insert(item); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Insert(item); err != nil {
		t.Fatalf("replayed insert: %v", err)
	}

	count, err := store.PendingCount()
	if err != nil || count != 1 {
		t.Fatalf("replay created a duplicate: %d %v", count, err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	item, err := NewItem("driver-1", "geofence_events", OpInsert, map[string]any{"id": "g1"})
	if err != nil {
		t.Fatalf("new item: %v", err)
	}
	if err := store.Insert(item); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Delete(item.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	count, err := store.PendingCount()
	if err != nil || count != 0 {
		t.Fatalf("expected empty store: %d %v", count, err)
	}
}

func TestStoreMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	qdb, err := db.OpenQueueDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := NewStore(qdb); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	qdb.Close()

	// Reopen the same file: migrations must not reapply.
	qdb, err = db.OpenQueueDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer qdb.Close()
	if _, err := NewStore(qdb); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}
