package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peercord/internal/core/ports"
	"peercord/internal/infrastructure/repositories/memory"
	redisrepo "peercord/internal/infrastructure/repositories/redis"
	"peercord/pkg/circuitbreaker"
	"peercord/pkg/config"
)

// chatHistoryLimit bounds the in-process chat log of one client.
const chatHistoryLimit = 500

// RepositoryFactory picks Redis-backed repositories when configured and
// reachable, and memory ones otherwise.
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cfg         *config.Config
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) *RepositoryFactory {
	factory := &RepositoryFactory{
		useRedis: cfg.Redis.Enabled,
		cfg:      cfg,
		logger:   logger,
	}

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory
}

// CreatePeerDirectory returns the broker directory. The Redis directory is
// wrapped in a circuit breaker so an outage rejects sessions quickly instead
// of stalling every handshake on network timeouts.
func (f *RepositoryFactory) CreatePeerDirectory() ports.PeerDirectory {
	if f.useRedis && f.redisClient != nil {
		breakerCfg := circuitbreaker.DefaultConfig()
		breakerCfg.IsFailure = isStoreFailure
		breaker := circuitbreaker.New(breakerCfg, nil)
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			f.logger.Warnw("peer directory circuit breaker changed state",
				"from", from.String(),
				"to", to.String(),
			)
		})
		return newGuardedDirectory(redisrepo.NewRedisPeerDirectory(f.redisClient, f.cfg.Redis.PresenceTTL), breaker)
	}
	return memory.NewMemoryPeerDirectory()
}

// CreateChatRepository always returns a memory repository; chat history is
// never persisted.
func (f *RepositoryFactory) CreateChatRepository() ports.ChatRepository {
	return memory.NewMemoryChatRepository(chatHistoryLimit)
}

// RedisClient returns the shared client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.UsesRedis() {
		return nil
	}
	return f.redisClient
}

func (f *RepositoryFactory) UsesRedis() bool {
	return f.useRedis && f.redisClient != nil
}

func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}

func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}
