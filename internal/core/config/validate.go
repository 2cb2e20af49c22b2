package config

import (
	"errors"

	"github.com/mohammed-shakir/geonav-cache/internal/core/apperr"
)

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Cache.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Cache.RedisAddr == "" {
			errs = append(errs, apperr.Configuration("REDIS_ADDR is required for the redis cache store"))
		}
	case StoreSQLite:
		if c.Cache.SQLitePath == "" {
			errs = append(errs, apperr.Configuration("SQLITE_PATH is required for the sqlite cache store"))
		}
	default:
		errs = append(errs, apperr.Configuration("CACHE_STORE %q is not one of memory, redis, sqlite", c.Cache.Store))
	}
	if c.Cache.Version == "" {
		errs = append(errs, apperr.Configuration("CACHE_VERSION must not be empty"))
	}

	if c.Viewport.Debounce <= 0 {
		errs = append(errs, apperr.Configuration("VIEWPORT_DEBOUNCE must be > 0"))
	}
	if c.Viewport.MoveFraction <= 0 || c.Viewport.MoveFraction > 1 {
		errs = append(errs, apperr.Configuration("VIEWPORT_MOVE_FRACTION must be in (0,1] (got %g)", c.Viewport.MoveFraction))
	}
	if c.Viewport.MinSeparationPx < 0 {
		errs = append(errs, apperr.Configuration("DECLUTTER_MIN_PX must be >= 0"))
	}
	if c.AI.RateLimitRPS < 0 {
		errs = append(errs, apperr.Configuration("AI_RATE_LIMIT_RPS must be >= 0"))
	}
	if c.FetchEvents.Enabled && len(c.FetchEvents.BrokerList()) == 0 {
		errs = append(errs, apperr.Configuration("KAFKA_BROKERS is required when FETCH_EVENTS_ENABLED"))
	}
	return errors.Join(errs...)
}
