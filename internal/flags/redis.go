package flags

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "goatmail:flags"

// RedisStore keeps each flag set in a Redis set at
// "<prefix>:<userID>:<kind>".
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisStore wraps rdb. An empty prefix uses "goatmail:flags".
func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(userID string, kind Kind) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, userID, kind)
}

// Load reads the three sets in one pipeline round trip.
func (s *RedisStore) Load(ctx context.Context, userID string) (*Overlay, error) {
	pipe := s.rdb.Pipeline()
	cmds := make(map[Kind]*redis.StringSliceCmd, len(Kinds))
	for _, k := range Kinds {
		cmds[k] = pipe.SMembers(ctx, s.key(userID, k))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load flags: %w", err)
	}

	o := NewOverlay()
	for k, cmd := range cmds {
		ids, err := cmd.Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("load %s flags: %w", k, err)
		}
		o.Set(k, ids...)
	}
	return o, nil
}

func (s *RedisStore) Add(ctx context.Context, userID string, kind Kind, messageID string) error {
	if err := s.rdb.SAdd(ctx, s.key(userID, kind), messageID).Err(); err != nil {
		return fmt.Errorf("add %s flag: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID string, kind Kind, messageID string) error {
	if err := s.rdb.SRem(ctx, s.key(userID, kind), messageID).Err(); err != nil {
		return fmt.Errorf("remove %s flag: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, userID string) error {
	keys := make([]string, 0, len(Kinds))
	for _, k := range Kinds {
		keys = append(keys, s.key(userID, k))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear flags: %w", err)
	}
	return nil
}
