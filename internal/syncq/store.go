package syncq

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Store is the durable local tier of the queue: a single-connection SQLite
// database that survives process restarts. Producers only ever append;
// the drainer is the only reader/deleter.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

func NewStore(qdb *sql.DB) (*Store, error) {
	s := &Store{db: qdb}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	migrations := []struct {
		version int
		name    string
		sql     string
	}{
		{1, "create_sync_queue_table", `
			CREATE TABLE sync_queue (
				id TEXT PRIMARY KEY,
				driver_id TEXT NOT NULL,
				collection TEXT NOT NULL,
				operation TEXT NOT NULL,
				payload TEXT NOT NULL,
				enqueued_at TIMESTAMP NOT NULL,
				synced INTEGER NOT NULL DEFAULT 0,
				synced_at TIMESTAMP,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error TEXT,
				failed INTEGER NOT NULL DEFAULT 0
			);
		`},
		{2, "create_sync_queue_indices", `
			CREATE INDEX idx_sync_queue_pending ON sync_queue (synced, enqueued_at);
		`},
	}

	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM migrations WHERE version = ?`, m.version).Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := s.db.Exec(`INSERT INTO migrations (version, name) VALUES (?, ?)`, m.version, m.name); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *Store) Insert(item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO sync_queue
			(id, driver_id, collection, operation, payload, enqueued_at, synced, retry_count, last_error, failed)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`, item.ID, item.DriverID, item.Collection, string(item.Operation), string(item.Payload),
		item.EnqueuedAt.UTC().Format(time.RFC3339Nano), boolToInt(item.Synced),
		item.RetryCount, item.LastError, boolToInt(item.Failed))
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

// Unsynced returns pending items oldest first.
func (s *Store) Unsynced(limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, driver_id, collection, operation, payload, enqueued_at, retry_count, COALESCE(last_error,''), failed
		FROM sync_queue
		WHERE synced = 0
		ORDER BY enqueued_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var (
			it         Item
			op         string
			payload    string
			enqueuedAt string
			failed     int
		)
		if err := rows.Scan(&it.ID, &it.DriverID, &it.Collection, &op, &payload, &enqueuedAt, &it.RetryCount, &it.LastError, &failed); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		it.Operation = Operation(op)
		it.Payload = []byte(payload)
		it.Failed = failed != 0
		if ts, err := time.Parse(time.RFC3339Nano, enqueuedAt); err == nil {
			it.EnqueuedAt = ts
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// Delete removes an item after it has been durably registered in the
// remote queue table. Unsynced items are only ever deleted through this
// migration path.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	return nil
}

func (s *Store) PendingCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sync_queue WHERE synced = 0`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
