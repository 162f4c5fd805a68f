package config

// Redis backs the realtime bridge, the asynq expiry queue, rate limiting
// and response caching.  When the server cannot be reached at startup
// NewRedisClient returns nil and each of those degrades on its own:
// realtime stays in-process, expiry timers stay local, and caching and
// rate limiting pass requests through.

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// LoadRedisOptions builds client options from REDIS_ADDR, or REDIS_HOST
// and REDIS_PORT when both are set, plus REDIS_PASSWORD, REDIS_DB and
// REDIS_TLS.
func LoadRedisOptions() *redis.Options {
	addr := envStr("REDIS_ADDR", "localhost:6379")
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		addr = host + ":" + port
	}
	opt := &redis.Options{
		Addr:         addr,
		Password:     envStr("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		DialTimeout:  envDur("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  envDur("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: envDur("REDIS_WRITE_TIMEOUT", time.Second),
	}
	if envBool("REDIS_TLS", false) {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: hostOf(addr)}
	}
	return opt
}

func hostOf(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// NewRedisClient connects and pings.  It returns nil if the server does
// not answer within two seconds.
func NewRedisClient(opt *redis.Options) *redis.Client {
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// AsynqRedisOpt converts the options for asynq so the expiry queue shares
// the server with everything else.
func AsynqRedisOpt(opt *redis.Options) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         opt.Addr,
		Password:     opt.Password,
		DB:           opt.DB,
		DialTimeout:  opt.DialTimeout,
		ReadTimeout:  opt.ReadTimeout,
		WriteTimeout: opt.WriteTimeout,
		TLSConfig:    opt.TLSConfig,
	}
}
