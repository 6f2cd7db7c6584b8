package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/place-resolver/internal/model"
)

// DefaultRedisPrefix namespaces the cache hashes.
const DefaultRedisPrefix = "place-resolver:cache"

// Redis stores entries in one hash and counters in another.
type Redis struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedis connects to Redis and pings it.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "redis: ping")
	}
	return NewRedisFromClient(client, opts.Prefix), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) entriesKey() string { return r.prefix + ":entries" }
func (r *Redis) metaKey() string    { return r.prefix + ":meta" }

// Name implements Backend.
func (r *Redis) Name() string { return "redis" }

// Load implements Backend.
func (r *Redis) Load(ctx context.Context) (*model.CacheIndex, error) {
	meta, err := r.client.HGetAll(ctx, r.metaKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: load meta")
	}
	raw, err := r.client.HGetAll(ctx, r.entriesKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "redis: load entries")
	}
	if len(meta) == 0 && len(raw) == 0 {
		return nil, ErrIndexNotFound
	}

	idx := model.NewCacheIndex()
	idx.LastUpdated = meta["last_updated"]
	idx.TotalHits, _ = strconv.ParseInt(meta["total_hits"], 10, 64)
	idx.TotalMisses, _ = strconv.ParseInt(meta["total_misses"], 10, 64)

	for key, val := range raw {
		var entry model.CacheEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			zap.L().Warn("redis: skipping unreadable cache entry", zap.String("key", key), zap.Error(err))
			continue
		}
		idx.Entries[key] = entry
	}
	return idx, nil
}

// Save implements Backend. All writes go through one MULTI/EXEC.
func (r *Redis) Save(ctx context.Context, idx *model.CacheIndex, changes ChangeSet) error {
	keys := changedEntries(idx, changes)
	fields := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		b, err := json.Marshal(idx.Entries[key])
		if err != nil {
			return eris.Wrapf(err, "redis: marshal entry %s", key)
		}
		fields = append(fields, key, string(b))
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if changes.All {
			pipe.Del(ctx, r.entriesKey())
		}
		if len(fields) > 0 {
			pipe.HSet(ctx, r.entriesKey(), fields...)
		}
		pipe.HSet(ctx, r.metaKey(),
			"last_updated", idx.LastUpdated,
			"total_hits", idx.TotalHits,
			"total_misses", idx.TotalMisses,
		)
		return nil
	})
	return eris.Wrap(err, "redis: save index")
}

// Close implements Backend.
func (r *Redis) Close() error {
	return r.client.Close()
}
