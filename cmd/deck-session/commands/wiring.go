package commands

import (
	"github.com/spherical/deck-session/internal/cache"
	"github.com/spherical/deck-session/internal/config"
	"github.com/spherical/deck-session/internal/convert"
	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/pdf"
	"github.com/spherical/deck-session/internal/session"
)

// newConverter builds the conversion client, wrapped in a cache when one is
// configured. The returned cleanup closes the cache.
func newConverter(cfg *config.Config, logger *observability.Logger) (domain.Converter, func()) {
	client := convert.NewClient(convert.Config{
		URL:     cfg.ConverterURL(),
		Timeout: cfg.Converter.Timeout,
	}, logger)

	var store cache.Client
	switch cfg.Cache.Driver {
	case "memory":
		store = cache.NewMemoryClient(cfg.Cache.MaxEntries)
	case "redis":
		rc, err := cache.NewRedisClient(cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Username: cfg.Cache.Redis.Username,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			Prefix:   cfg.Cache.Redis.Prefix,
			TLS:      cfg.Cache.Redis.TLS,
		})
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Cache.Redis.Addr).Msg("Redis unavailable, conversion cache disabled")
			return client, func() {}
		}
		store = rc
	default:
		return client, func() {}
	}

	logger.Info().Str("driver", cfg.Cache.Driver).Dur("ttl", cfg.Cache.TTL).Msg("Conversion cache enabled")
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close cache")
		}
	}
	return convert.NewCachingConverter(client, store, cfg.Cache.TTL, logger), cleanup
}

// newManager wires converter, parser and logger into a session manager.
func newManager(cfg *config.Config, logger *observability.Logger, events chan<- domain.StatusEvent) (*session.Manager, func()) {
	converter, cleanup := newConverter(cfg, logger)

	opts := []session.Option{session.WithLogger(logger)}
	if events != nil {
		opts = append(opts, session.WithEvents(events))
	}
	return session.NewManager(converter, pdf.NewParser(), opts...), cleanup
}
