package variant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/kontrol-backend/internal/config"
	"github.com/stemsi/kontrol-backend/internal/model"
)

// CachedLoader keeps parsed documents in Redis for ttl (cache-aside). Cache
// errors never fail a load.
type CachedLoader struct {
	inner Loader
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

func NewCachedLoader(inner Loader, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedLoader {
	return &CachedLoader{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "variant_cache").Logger(),
	}
}

func (l *CachedLoader) Manifest(ctx context.Context, subject string) (*model.Manifest, error) {
	key := config.CacheKey.ManifestKey(subject)

	var m model.Manifest
	if l.get(ctx, key, &m) {
		return &m, nil
	}

	fresh, err := l.inner.Manifest(ctx, subject)
	if err != nil {
		return nil, err
	}
	l.set(ctx, key, fresh)
	return fresh, nil
}

func (l *CachedLoader) Variant(ctx context.Context, subject, variantID string) (*model.Variant, error) {
	key := config.CacheKey.VariantKey(subject, variantID)

	var v model.Variant
	if l.get(ctx, key, &v) {
		return &v, nil
	}

	fresh, err := l.inner.Variant(ctx, subject, variantID)
	if err != nil {
		return nil, err
	}
	l.set(ctx, key, fresh)
	return fresh, nil
}

// Invalidate drops the cached manifest and variant documents of a subject.
func (l *CachedLoader) Invalidate(ctx context.Context, subject string, variantIDs ...string) error {
	keys := []string{config.CacheKey.ManifestKey(subject)}
	for _, id := range variantIDs {
		keys = append(keys, config.CacheKey.VariantKey(subject, id))
	}
	return l.rdb.Del(ctx, keys...).Err()
}

func (l *CachedLoader) get(ctx context.Context, key string, dst any) bool {
	raw, err := l.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			l.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Cache entry corrupt")
		return false
	}
	return true
}

func (l *CachedLoader) set(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := l.rdb.Set(ctx, key, raw, l.ttl).Err(); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}
