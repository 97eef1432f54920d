// Package rediscache puts a Redis read-through cache in front of the person
// directory. Only display names are cached; existence checks always reach the
// directory so a deactivated person cannot book from a stale entry.
package rediscache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

type PersonLookup interface {
	Exists(ctx context.Context, personID string) (bool, error)
	DisplayName(ctx context.Context, personID string) (string, error)
}

type NameCache struct {
	rdb    redis.Cmdable
	next   PersonLookup
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewNameCache(rdb redis.Cmdable, next PersonLookup, ttl time.Duration, logger *slog.Logger) *NameCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NameCache{
		rdb:    rdb,
		next:   next,
		ttl:    ttl,
		prefix: "trainingcenter:person:name:",
		logger: logger.With(slog.String("component", "rediscache.names")),
	}
}

func (c *NameCache) Exists(ctx context.Context, personID string) (bool, error) {
	return c.next.Exists(ctx, personID)
}

// DisplayName serves from Redis when possible. Redis failures fall back to the
// directory; lookup errors are never cached.
func (c *NameCache) DisplayName(ctx context.Context, personID string) (string, error) {
	key := c.key(personID)

	name, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return name, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("redis get failed", slog.String("person_id", personID), slog.Any("err", err))
	}

	name, err = c.next.DisplayName(ctx, personID)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, name, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", slog.String("person_id", personID), slog.Any("err", err))
	}
	return name, nil
}

func (c *NameCache) key(personID string) string {
	return c.prefix + strings.TrimSpace(personID)
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}
