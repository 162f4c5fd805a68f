package config

import "time"

// CacheConfig controls the response cache in front of zone reference data
// (gates).  Spot state changes every few seconds and is never cached.
// Entries are keyed by the concrete request path, so two zones never share
// one.  Gates are the same for every caller, so the user is not part of
// the key.
type CacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	VaryQuery    bool // include the raw query string in the key
	MaxBodyBytes int  // larger responses are served but not stored
}

// LoadCacheConfig reads CACHE_* variables.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		TTL:          envDur("CACHE_TTL", time.Minute),
		Prefix:       envStr("CACHE_PREFIX", "spots:cache"),
		VaryQuery:    envBool("CACHE_VARY_QUERY", true),
		MaxBodyBytes: envInt("CACHE_MAX_BODY_BYTES", 256<<10),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	return cfg
}
