package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/responsibility-agent/internal/config"
	"github.com/wolfman30/responsibility-agent/internal/runlock"
	"github.com/wolfman30/responsibility-agent/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; run lock is process-local only", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildRunLock returns the shared run lock, or nil without Redis.
func BuildRunLock(client *redis.Client, cfg *appconfig.Config) (*runlock.RedisLock, error) {
	if client == nil {
		return nil, nil
	}
	lock, err := runlock.NewRedisLock(client, runlock.DefaultKey, cfg.RunLockTTL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: run lock: %w", err)
	}
	return lock, nil
}
