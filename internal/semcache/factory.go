package semcache

import "strings"

// New creates a redis-backed cache when configured, otherwise in-memory.
func New(cfg RedisConfig) (Cache, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return NewInMemoryCache(cfg.MaxEntries, cfg.Threshold), nil
	}
	return NewRedisCache(cfg)
}
