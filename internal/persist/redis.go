package persist

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"delegation-cache/internal/cache"
)

const DefaultRedisPrefix = "delegcache"

type RedisConfig struct {
	Addr   string
	Prefix string
	DB     int
}

// Redis keeps one hash per entry under <prefix>:entry:<key>, expiring at
// the entry's deadline, and a sorted set <prefix>:recency scored by last
// access so Load can rebuild LRU order.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
	retry  retryPolicy
	now    func() time.Time
}

func NewRedis(cfg RedisConfig, logger *zap.Logger) *Redis {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	return newRedisWithClient(client, cfg.Prefix, logger)
}

func newRedisWithClient(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{
		client: client,
		prefix: prefix,
		logger: logger,
		retry:  defaultRetryPolicy,
		now:    time.Now,
	}
}

func (r *Redis) entryKey(member string) string {
	return r.prefix + ":entry:" + member
}

func (r *Redis) recencyKey() string {
	return r.prefix + ":recency"
}

// Ping checks that Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return withRetry(ctx, r.logger, r.retry, "redis ping", func(ctx context.Context) error {
		return r.client.Ping(ctx).Err()
	})
}

// Save replaces the previous snapshot. Old entries and the new ones are
// written in a single MULTI/EXEC block.
func (r *Redis) Save(ctx context.Context, records []cache.Record) error {
	var previous []string
	err := withRetry(ctx, r.logger, r.retry, "redis snapshot list", func(ctx context.Context) error {
		var err error
		previous, err = r.client.ZRange(ctx, r.recencyKey(), 0, -1).Result()
		return err
	})
	if err != nil {
		return fmt.Errorf("redis snapshot save: %w", err)
	}

	now := r.now()
	err = withRetry(ctx, r.logger, r.retry, "redis snapshot write", func(ctx context.Context) error {
		_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			stale := make([]string, 0, len(previous)+1)
			for _, member := range previous {
				stale = append(stale, r.entryKey(member))
			}
			stale = append(stale, r.recencyKey())
			pipe.Del(ctx, stale...)

			for _, rec := range records {
				if rec.Expired(now) {
					continue
				}
				member := rec.Key.String()
				key := r.entryKey(member)
				pipe.HSet(ctx, key,
					"value", rec.Value,
					"created_at", rec.CreatedAt.UnixNano(),
					"last_access", rec.LastAccess.UnixNano(),
					"expires_at", rec.ExpiresAt.UnixNano(),
					"size", rec.Size,
				)
				pipe.PExpireAt(ctx, key, rec.ExpiresAt)
				pipe.ZAdd(ctx, r.recencyKey(), redis.Z{
					Score:  float64(rec.LastAccess.UnixMicro()),
					Member: member,
				})
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("redis snapshot save: %w", err)
	}
	r.logger.Debug("snapshot saved", zap.Int("records", len(records)))
	return nil
}

// Load reads entries in recency order. Members whose hash already expired
// in Redis are dropped from the recency set.
func (r *Redis) Load(ctx context.Context) ([]cache.Record, error) {
	var members []string
	err := withRetry(ctx, r.logger, r.retry, "redis snapshot list", func(ctx context.Context) error {
		var err error
		members, err = r.client.ZRange(ctx, r.recencyKey(), 0, -1).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis snapshot load: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	var cmds []*redis.MapStringStringCmd
	err = withRetry(ctx, r.logger, r.retry, "redis snapshot read", func(ctx context.Context) error {
		cmds = make([]*redis.MapStringStringCmd, len(members))
		_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, member := range members {
				cmds[i] = pipe.HGetAll(ctx, r.entryKey(member))
			}
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis snapshot load: %w", err)
	}

	now := r.now()
	records := make([]cache.Record, 0, len(members))
	var gone []any
	for i, member := range members {
		fields := cmds[i].Val()
		rec, err := decodeRecord(member, fields)
		if err != nil {
			r.logger.Warn("skipping unreadable snapshot entry", zap.String("key", member), zap.Error(err))
			gone = append(gone, member)
			continue
		}
		if rec.Expired(now) {
			gone = append(gone, member)
			continue
		}
		records = append(records, rec)
	}

	if len(gone) > 0 {
		if err := r.client.ZRem(ctx, r.recencyKey(), gone...).Err(); err != nil {
			r.logger.Warn("failed to prune recency set", zap.Int("members", len(gone)), zap.Error(err))
		}
	}
	return records, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func decodeRecord(member string, fields map[string]string) (cache.Record, error) {
	if len(fields) == 0 {
		return cache.Record{}, errors.New("entry missing")
	}
	key, err := cache.ParseKey(member)
	if err != nil {
		return cache.Record{}, err
	}
	nanos := func(field string) (time.Time, error) {
		n, err := strconv.ParseInt(fields[field], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", field, err)
		}
		return time.Unix(0, n), nil
	}

	rec := cache.Record{Key: key, Value: []byte(fields["value"])}
	if rec.CreatedAt, err = nanos("created_at"); err != nil {
		return cache.Record{}, err
	}
	if rec.LastAccess, err = nanos("last_access"); err != nil {
		return cache.Record{}, err
	}
	if rec.ExpiresAt, err = nanos("expires_at"); err != nil {
		return cache.Record{}, err
	}
	if rec.Size, err = strconv.ParseInt(fields["size"], 10, 64); err != nil {
		return cache.Record{}, fmt.Errorf("field size: %w", err)
	}
	return rec, nil
}
