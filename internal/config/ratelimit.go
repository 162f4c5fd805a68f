package config

import "time"

// Rate limit scopes.  ScopeUserAction gives every user one bucket per
// action (reserve, confirm, ..., admin), so a burst of reserve retries
// cannot starve that user's cancel.  ScopeUser shares one bucket across
// all of a user's writes.
const (
	ScopeUserAction = "user_action"
	ScopeUser       = "user"
)

// RateLimitConfig configures the token bucket applied to spot actions and
// admin writes.  Read endpoints and the change stream are never limited.
type RateLimitConfig struct {
	Enabled     bool
	Capacity    int           // bucket size
	RefillEvery time.Duration // one token is added per interval, continuously
	Scope       string        // ScopeUserAction or ScopeUser
	Prefix      string        // Redis key prefix
}

// TTL is how long an idle bucket is kept: long enough to refill completely.
func (c RateLimitConfig) TTL() time.Duration {
	return time.Duration(c.Capacity+1) * c.RefillEvery
}

// LoadRateLimitConfig reads RATE_LIMIT_* variables.  The default bucket
// holds 20 writes and refills one every 3s, which leaves room for a
// reserve, a confirm and a few retries.
func LoadRateLimitConfig() RateLimitConfig {
	cfg := RateLimitConfig{
		Enabled:     envBool("RATE_LIMIT_ENABLED", true),
		Capacity:    envInt("RATE_LIMIT_BURST", 20),
		RefillEvery: envDur("RATE_LIMIT_REFILL_EVERY", 3*time.Second),
		Scope:       envStr("RATE_LIMIT_SCOPE", ScopeUserAction),
		Prefix:      envStr("RATE_LIMIT_PREFIX", "spots:rl"),
	}
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.RefillEvery <= 0 {
		cfg.RefillEvery = time.Second
	}
	if cfg.Scope != ScopeUser {
		cfg.Scope = ScopeUserAction
	}
	return cfg
}
