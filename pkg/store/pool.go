package store

import (
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const defaultPoolSize = 4

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=OFF",
	"PRAGMA temp_store=MEMORY",
}

const schema = `
CREATE TABLE IF NOT EXISTS cards (
	id         TEXT PRIMARY KEY,
	tag        TEXT NOT NULL,
	technology TEXT NOT NULL,
	scanned_at INTEGER NOT NULL,
	body       BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS cards_by_tag ON cards (tag, scanned_at);

CREATE TABLE IF NOT EXISTS key_bundles (
	tag        TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL,
	body       BLOB NOT NULL
);
`

func openPool(path string, size int) (*sqlitex.Pool, error) {
	if size <= 0 {
		size = defaultPoolSize
	}
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	return pool, nil
}

// prepareConn runs once per pooled connection, on first use.
func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: schema: %w", err)
	}
	return nil
}
