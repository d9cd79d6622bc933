package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/darkace1998/PostureLens/internal/logging"

	_ "modernc.org/sqlite"
)

// SQLite is a cache persisted in a local SQLite file so that cached
// payloads survive a restart.
type SQLite struct {
	db            *sql.DB
	pruneInterval time.Duration
	stopPrune     chan struct{}
	pruneWg       sync.WaitGroup
	now           func() time.Time
}

// NewSQLite opens (or creates) a cache database at path, enables WAL mode,
// and starts a background goroutine deleting expired entries every
// pruneInterval. A non-positive interval disables background pruning.
func NewSQLite(path string, pruneInterval time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	createSQL := `CREATE TABLE IF NOT EXISTS cache_entries (
		key        TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		stored_at  INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`
	if _, err := db.Exec(createSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache table: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at)"); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating expiry index: %w", err)
	}

	// SQLite uses file-level locking; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:            db,
		pruneInterval: pruneInterval,
		stopPrune:     make(chan struct{}),
		now:           time.Now,
	}

	if pruneInterval > 0 {
		s.pruneWg.Add(1)
		go s.pruneLoop()
	}

	return s, nil
}

// Get implements Cache.
func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	var payload []byte
	var storedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT payload, stored_at, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&payload, &storedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("query cache entry: %w", err)
	}
	if s.now().UnixNano() >= expiresAt {
		return Entry{}, false, nil
	}
	return Entry{Payload: payload, StoredAt: time.Unix(0, storedAt).UTC()}, true, nil
}

// Set implements Cache.
func (s *SQLite) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO cache_entries (key, payload, stored_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			stored_at = excluded.stored_at,
			expires_at = excluded.expires_at`,
		key, e.Payload, e.StoredAt.UnixNano(), s.now().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Prune deletes expired entries.
func (s *SQLite) Prune() (int64, error) {
	result, err := s.db.Exec("DELETE FROM cache_entries WHERE expires_at <= ?", s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	return result.RowsAffected()
}

// InvalidateTenant implements Invalidator.
func (s *SQLite) InvalidateTenant(ctx context.Context, tenantID string) (int, error) {
	// Keys built by Key sort between "<tenant>|" and "<tenant>}".
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM cache_entries WHERE key >= ? AND key < ?", tenantID+"|", tenantID+"}")
	if err != nil {
		return 0, fmt.Errorf("listing tenant keys: %w", err)
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning tenant key: %w", err)
		}
		if tenantOwns(k, tenantID) {
			keys = append(keys, k)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("listing tenant keys: %w", err)
	}

	n := 0
	for _, k := range keys {
		res, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", k)
		if err != nil {
			return n, fmt.Errorf("deleting %s: %w", k, err)
		}
		if c, _ := res.RowsAffected(); c > 0 {
			n++
		}
	}
	return n, nil
}

// pruneLoop runs periodic expiry cleanup until stopped.
func (s *SQLite) pruneLoop() {
	defer s.pruneWg.Done()

	ticker := time.NewTicker(s.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := s.Prune()
			if err != nil {
				logging.Default().Named("cache").Error("SQLite prune error: %v", err)
			} else if deleted > 0 {
				logging.Default().Named("cache").Debug("SQLite pruned %d expired cache entries", deleted)
			}
		case <-s.stopPrune:
			return
		}
	}
}

// Close stops the pruning goroutine and closes the database.
func (s *SQLite) Close() error {
	close(s.stopPrune)
	s.pruneWg.Wait()
	return s.db.Close()
}
