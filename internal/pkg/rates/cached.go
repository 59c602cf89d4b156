package rates

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const cacheKeyPrefix = "rates:"

// CachedProvider caches another provider's answers in Redis.
// A nil Redis client turns it into a pass-through.
type CachedProvider struct {
	inner Provider
	redis *redis.Client
	ttl   time.Duration
}

func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedProvider{inner: inner, redis: client, ttl: ttl}
}

func (p *CachedProvider) GetRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if p.redis == nil {
		return p.inner.GetRate(ctx, from, to)
	}

	key := cacheKeyPrefix + strings.ToUpper(from) + ":" + strings.ToUpper(to)
	cached, err := p.redis.Get(ctx, key).Result()
	switch {
	case err == nil:
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
	case !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("Rate cache read failed")
	}

	rate, err := p.inner.GetRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if err := p.redis.Set(ctx, key, rate.String(), p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rate cache write failed")
	}
	return rate, nil
}
