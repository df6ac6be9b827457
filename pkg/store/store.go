// Package store persists raw cards and key bundles in SQLite.
//
// Cards are kept as CBOR documents (pkg/codec) under a time-ordered UUID. Key
// bundles are kept one per tag, so a Store can serve as the keys.Resolver of an
// acquisition. SQLite runs in WAL mode: readers proceed concurrently and writes are
// serialized by the database.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/gregLibert/farecard/pkg/card"
	"github.com/gregLibert/farecard/pkg/codec"
	"github.com/gregLibert/farecard/pkg/keys"
)

// ErrNotFound is returned by LoadCard for an unknown id.
var ErrNotFound = errors.New("store: not found")

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the database file. Its directory must exist.
	Path string

	// PoolSize is the number of pooled connections; 4 when zero.
	PoolSize int

	// Now stamps key bundle updates. Defaults to time.Now.
	Now func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	pool *sqlitex.Pool
	path string
	now  func() time.Time
}

// CardInfo describes a stored card without decoding it.
type CardInfo struct {
	ID         uuid.UUID
	TagID      card.TagID
	Technology card.Technology
	ScannedAt  time.Time
}

var _ keys.Resolver = (*Store)(nil)

// Open opens or creates the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("store: Path is required")
	}
	pool, err := openPool(cfg.Path, cfg.PoolSize)
	if err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{pool: pool, path: cfg.Path, now: now}, nil
}

// Close waits for borrowed connections and closes the pool.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// SaveCard stores raw and returns its new id.
func (s *Store) SaveCard(ctx context.Context, raw *card.RawCard) (uuid.UUID, error) {
	body, err := codec.MarshalCard(raw)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: new card id: %w", err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: save card: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO cards (id, tag, technology, scanned_at, body) VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			id.String(),
			raw.TagID.String(),
			raw.Technology().String(),
			raw.ScannedAt.UnixNano(),
			body,
		}})
	if err != nil {
		return uuid.Nil, fmt.Errorf("store: save card: %w", err)
	}
	return id, nil
}

// LoadCard returns the card stored under id.
func (s *Store) LoadCard(ctx context.Context, id uuid.UUID) (*card.RawCard, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: load card: %w", err)
	}
	defer s.pool.Put(conn)

	var body []byte
	err = sqlitex.Execute(conn, `SELECT body FROM cards WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{id.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			body = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: load card %s: %w", id, err)
	}
	if body == nil {
		return nil, fmt.Errorf("card %s: %w", id, ErrNotFound)
	}
	return codec.UnmarshalCard(body)
}

// ListCards lists stored cards, newest scan first. A non-empty tagID restricts the
// list to that tag.
func (s *Store) ListCards(ctx context.Context, tagID card.TagID) ([]CardInfo, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list cards: %w", err)
	}
	defer s.pool.Put(conn)

	query := `SELECT id, tag, technology, scanned_at FROM cards ORDER BY scanned_at DESC, id DESC`
	var args []any
	if len(tagID) > 0 {
		query = `SELECT id, tag, technology, scanned_at FROM cards WHERE tag = ? ORDER BY scanned_at DESC, id DESC`
		args = []any{tagID.String()}
	}

	var out []CardInfo
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			info, err := scanCardInfo(stmt)
			if err != nil {
				return err
			}
			out = append(out, info)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: list cards: %w", err)
	}
	return out, nil
}

func scanCardInfo(stmt *sqlite.Stmt) (CardInfo, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return CardInfo{}, fmt.Errorf("card id %q: %w", stmt.ColumnText(0), err)
	}
	tag, err := card.ParseTagID(stmt.ColumnText(1))
	if err != nil {
		return CardInfo{}, fmt.Errorf("card %s: %w", id, err)
	}
	tech, err := card.ParseTechnology(stmt.ColumnText(2))
	if err != nil {
		return CardInfo{}, fmt.Errorf("card %s: %w", id, err)
	}
	return CardInfo{
		ID:         id,
		TagID:      tag,
		Technology: tech,
		ScannedAt:  time.Unix(0, stmt.ColumnInt64(3)),
	}, nil
}

// KeysFor returns the bundle stored for tagID, or nil when there is none.
func (s *Store) KeysFor(ctx context.Context, tagID card.TagID) (*keys.KeyBundle, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: keys for %s: %w", tagID, err)
	}
	defer s.pool.Put(conn)

	var body []byte
	err = sqlitex.Execute(conn, `SELECT body FROM key_bundles WHERE tag = ?`, &sqlitex.ExecOptions{
		Args: []any{tagID.String()},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			body = columnBlob(stmt, 0)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: keys for %s: %w", tagID, err)
	}
	if body == nil {
		return nil, nil
	}
	return codec.UnmarshalKeys(body)
}

// Remember replaces the bundle stored for tagID.
func (s *Store) Remember(ctx context.Context, tagID card.TagID, bundle *keys.KeyBundle) error {
	if bundle == nil {
		return errors.New("store: nil key bundle")
	}
	body, err := codec.MarshalKeys(bundle)
	if err != nil {
		return err
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: remember %s: %w", tagID, err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO key_bundles (tag, updated_at, body) VALUES (?, ?, ?)
		 ON CONFLICT (tag) DO UPDATE SET updated_at = excluded.updated_at, body = excluded.body`,
		&sqlitex.ExecOptions{Args: []any{tagID.String(), s.now().UnixNano(), body}})
	if err != nil {
		return fmt.Errorf("store: remember %s: %w", tagID, err)
	}
	return nil
}

// columnBlob copies a BLOB column out of stmt; the statement's buffer is reused
// on the next step.
func columnBlob(stmt *sqlite.Stmt, col int) []byte {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return buf
}
