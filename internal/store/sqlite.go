package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/place-resolver/internal/model"
)

// SQLite stores one row per cache entry plus a single counters row.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn, configures WAL mode, and
// creates the cache tables.
func NewSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS place_cache (
	cache_key  TEXT PRIMARY KEY,
	entry      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS place_cache_meta (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	last_updated TEXT NOT NULL DEFAULT '',
	total_hits   INTEGER NOT NULL DEFAULT 0,
	total_misses INTEGER NOT NULL DEFAULT 0
);
`

// Migrate creates the cache tables.
func (s *SQLite) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Name implements Backend.
func (s *SQLite) Name() string { return "sqlite" }

// Load implements Backend.
func (s *SQLite) Load(ctx context.Context) (*model.CacheIndex, error) {
	idx := model.NewCacheIndex()
	haveMeta := true
	err := s.db.QueryRowContext(ctx,
		`SELECT last_updated, total_hits, total_misses FROM place_cache_meta WHERE id = 1`,
	).Scan(&idx.LastUpdated, &idx.TotalHits, &idx.TotalMisses)
	if errors.Is(err, sql.ErrNoRows) {
		haveMeta = false
	} else if err != nil {
		return nil, eris.Wrap(err, "sqlite: load meta")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT cache_key, entry FROM place_cache`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load entries")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		var entry model.CacheEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			zap.L().Warn("sqlite: skipping unreadable cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		idx.Entries[key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate entries")
	}

	if !haveMeta && len(idx.Entries) == 0 {
		return nil, ErrIndexNotFound
	}
	return idx, nil
}

// Save implements Backend.
func (s *SQLite) Save(ctx context.Context, idx *model.CacheIndex, changes ChangeSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	if err := s.write(ctx, tx, idx, changes); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLite) write(ctx context.Context, tx *sql.Tx, idx *model.CacheIndex, changes ChangeSet) error {
	if changes.All {
		if _, err := tx.ExecContext(ctx, `DELETE FROM place_cache`); err != nil {
			return eris.Wrap(err, "sqlite: clear entries")
		}
	}

	now := time.Now().UTC()
	for _, key := range changedEntries(idx, changes) {
		raw, err := json.Marshal(idx.Entries[key])
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal entry %s", key)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO place_cache (cache_key, entry, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(cache_key) DO UPDATE SET entry = excluded.entry, updated_at = excluded.updated_at`,
			key, string(raw), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert entry %s", key)
		}
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO place_cache_meta (id, last_updated, total_hits, total_misses) VALUES (1, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_updated = excluded.last_updated,
		   total_hits = excluded.total_hits, total_misses = excluded.total_misses`,
		idx.LastUpdated, idx.TotalHits, idx.TotalMisses,
	)
	return eris.Wrap(err, "sqlite: upsert meta")
}

// Close implements Backend.
func (s *SQLite) Close() error {
	return s.db.Close()
}
