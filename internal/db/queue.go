package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// OpenQueueDB opens the durable local queue database. If path is empty it
// falls back to ~/.jlr-tracker/queue.db. SQLite is kept on a single
// connection so queue writes serialize without extra locking.
func OpenQueueDB(path string) (*sql.DB, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		path = filepath.Join(home, ".jlr-tracker", "queue.db")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	qdb, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	qdb.SetMaxOpenConns(1)
	qdb.SetMaxIdleConns(1)

	if err := qdb.Ping(); err != nil {
		qdb.Close()
		return nil, fmt.Errorf("ping queue db: %w", err)
	}
	return qdb, nil
}
