package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/llm-router/internal/config"
	"github.com/wolfman30/llm-router/internal/project"
	"github.com/wolfman30/llm-router/internal/retrieval"
	"github.com/wolfman30/llm-router/pkg/logging"
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
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available, project settings disabled", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildSettingsStore returns the project settings store when Redis is available.
func BuildSettingsStore(redisClient *redis.Client) *project.Store {
	if redisClient == nil {
		return nil
	}
	return project.NewStore(redisClient)
}

// BuildRetriever returns the document retrieval client, or a nil interface
// when RETRIEVAL_BASE_URL is unset.
func BuildRetriever(cfg *appconfig.Config, logger *logging.Logger) retrieval.Retriever {
	if cfg == nil {
		return nil
	}
	client := retrieval.NewClient(cfg.RetrievalBaseURL, logger)
	if client == nil {
		return nil
	}
	return client
}
