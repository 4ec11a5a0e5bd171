package translate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const cachePrefix = "translation:"

// CachedProvider memoizes successful translations in Redis. Redis errors are
// logged and the call goes straight to the wrapped provider.
type CachedProvider struct {
	inner Provider
	rdb   redis.UniversalClient
	ttl   time.Duration
	log   *logrus.Logger
}

// NewCachedProvider wraps inner with a Redis cache whose entries live for ttl.
func NewCachedProvider(inner Provider, rdb redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *CachedProvider {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &CachedProvider{inner: inner, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedProvider) Name() string { return c.inner.Name() }

func (c *CachedProvider) Translate(ctx context.Context, text, sourceCode, targetCode string) (string, error) {
	key := cacheKey(text, sourceCode, targetCode)

	cached, err := c.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		return cached, nil
	case !errors.Is(err, redis.Nil):
		c.log.WithError(err).Warn("translate: cache read failed")
	}

	out, err := c.inner.Translate(ctx, text, sourceCode, targetCode)
	if err != nil {
		return "", err
	}
	if err := c.rdb.Set(ctx, key, out, c.ttl).Err(); err != nil {
		c.log.WithError(err).Warn("translate: cache write failed")
	}
	return out, nil
}

// TranslateBatch serves hits from one MGET and sends only the misses to the
// wrapped provider.
func (c *CachedProvider) TranslateBatch(ctx context.Context, texts []string, sourceCode, targetCode string) ([]string, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = cacheKey(t, sourceCode, targetCode)
	}

	out := make([]string, len(texts))
	var missIdx []int
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.WithError(err).Warn("translate: cache read failed")
		vals = make([]any, len(texts))
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = s
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return out, nil
	}

	misses := make([]string, len(missIdx))
	for j, i := range missIdx {
		misses[j] = texts[i]
	}

	var translated []string
	if bp, ok := c.inner.(BatchProvider); ok {
		translated, err = bp.TranslateBatch(ctx, misses, sourceCode, targetCode)
		if err != nil {
			return nil, err
		}
	} else {
		translated = make([]string, len(misses))
		for j, t := range misses {
			if translated[j], err = c.inner.Translate(ctx, t, sourceCode, targetCode); err != nil {
				return nil, err
			}
		}
	}

	pipe := c.rdb.Pipeline()
	for j, i := range missIdx {
		out[i] = translated[j]
		pipe.Set(ctx, keys[i], translated[j], c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithError(err).Warn("translate: cache write failed")
	}
	return out, nil
}

func cacheKey(text, sourceCode, targetCode string) string {
	sum := sha256.Sum256([]byte(text))
	return cachePrefix + sourceCode + ":" + targetCode + ":" + hex.EncodeToString(sum[:8])
}
