package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
)

// Pool is the subset of pgxpool.Pool the Postgres backend uses. pgxmock
// pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres stores the cache index in two tables.
type Postgres struct {
	pool    Pool
	closeFn func()
}

// NewPostgres connects to connString, pings, and creates the cache tables.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	p := &Postgres{pool: pool, closeFn: pool.Close}
	if err := p.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS place_cache (
	cache_key  TEXT PRIMARY KEY,
	entry      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS place_cache_meta (
	id           SMALLINT PRIMARY KEY CHECK (id = 1),
	last_updated TEXT NOT NULL DEFAULT '',
	total_hits   BIGINT NOT NULL DEFAULT 0,
	total_misses BIGINT NOT NULL DEFAULT 0
);
`

// Migrate creates the cache tables.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Name implements Backend.
func (p *Postgres) Name() string { return "postgres" }

// Load implements Backend.
func (p *Postgres) Load(ctx context.Context) (*model.CacheIndex, error) {
	idx := model.NewCacheIndex()
	haveMeta := true
	err := p.pool.QueryRow(ctx,
		`SELECT last_updated, total_hits, total_misses FROM place_cache_meta WHERE id = 1`,
	).Scan(&idx.LastUpdated, &idx.TotalHits, &idx.TotalMisses)
	if errors.Is(err, pgx.ErrNoRows) {
		haveMeta = false
	} else if err != nil {
		return nil, eris.Wrap(err, "postgres: load meta")
	}

	rows, err := p.pool.Query(ctx, `SELECT cache_key, entry FROM place_cache`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load entries")
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		var entry model.CacheEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			zap.L().Warn("postgres: skipping unreadable cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		idx.Entries[key] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate entries")
	}

	if !haveMeta && len(idx.Entries) == 0 {
		return nil, ErrIndexNotFound
	}
	return idx, nil
}

// Save implements Backend.
func (p *Postgres) Save(ctx context.Context, idx *model.CacheIndex, changes ChangeSet) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	if err := p.write(ctx, tx, idx, changes); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (p *Postgres) write(ctx context.Context, tx pgx.Tx, idx *model.CacheIndex, changes ChangeSet) error {
	if changes.All {
		if _, err := tx.Exec(ctx, `DELETE FROM place_cache`); err != nil {
			return eris.Wrap(err, "postgres: clear entries")
		}
	}

	for _, key := range changedEntries(idx, changes) {
		raw, err := json.Marshal(idx.Entries[key])
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal entry %s", key)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO place_cache (cache_key, entry, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (cache_key) DO UPDATE SET entry = EXCLUDED.entry, updated_at = now()`,
			key, raw,
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert entry %s", key)
		}
	}

	_, err := tx.Exec(ctx,
		`INSERT INTO place_cache_meta (id, last_updated, total_hits, total_misses) VALUES (1, $1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated,
		   total_hits = EXCLUDED.total_hits, total_misses = EXCLUDED.total_misses`,
		idx.LastUpdated, idx.TotalHits, idx.TotalMisses,
	)
	return eris.Wrap(err, "postgres: upsert meta")
}

// Close implements Backend.
func (p *Postgres) Close() error {
	if p.closeFn != nil {
		p.closeFn()
	}
	return nil
}
