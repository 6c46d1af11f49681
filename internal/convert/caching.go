package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/spherical/deck-session/internal/cache"
	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/pdf"
)

// CachingConverter serves repeat conversions of identical content from a cache.
// Cache failures are logged and fall through to the wrapped converter.
type CachingConverter struct {
	next   domain.Converter
	cache  cache.Client
	ttl    time.Duration
	logger *observability.Logger
}

// NewCachingConverter wraps next with a content-addressed cache
func NewCachingConverter(next domain.Converter, c cache.Client, ttl time.Duration, logger *observability.Logger) *CachingConverter {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CachingConverter{
		next:   next,
		cache:  c,
		ttl:    ttl,
		logger: logger.WithOperation("convert-cache"),
	}
}

// Convert returns cached PDF bytes for previously seen content, converting otherwise
func (c *CachingConverter) Convert(ctx context.Context, file domain.File) ([]byte, error) {
	data, err := pdf.ReadAll(file)
	if err != nil {
		return nil, err
	}
	key := CacheKey(data)

	cached, err := c.cache.Get(ctx, key)
	switch {
	case err == nil:
		c.logger.Debug().Str("file_name", file.Name()).Str("key", key).Msg("Conversion cache hit")
		return cached, nil
	case !errors.Is(err, cache.ErrCacheMiss):
		c.logger.Warn().Err(err).Msg("Conversion cache read failed")
	}

	out, err := c.next.Convert(ctx, pdf.NewMemoryFile(file.Name(), file.MediaType(), data))
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, key, out, c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("Conversion cache write failed")
	}
	return out, nil
}

// CacheKey derives the cache key from source content
func CacheKey(data []byte) string {
	sum := sha256.Sum256(data)
	return "convert:" + hex.EncodeToString(sum[:])
}
