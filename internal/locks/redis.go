package locks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/wissel/internal/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix     = "wissel:lock:"
	defaultLeaseDuration = 30 * time.Second
	defaultRetryInterval = 200 * time.Millisecond
	releaseTimeout       = 5 * time.Second
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisConfig configures a [Redis] locker.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	KeyPrefix     string
	LeaseDuration time.Duration // lock expires if the holder dies
	RetryInterval time.Duration
}

// Redis is a lease lock shared by every process using the same Redis server.
//
// A lock is a key set with SET NX PX to a random token; release is a compare-and-delete script.
// Holders must finish within the lease or the lock may be taken over.
type Redis struct {
	client *redis.Client
	config RedisConfig
	logger *log.Logger
}

// NewRedis connects to Redis and returns a locker. The connection is checked with PING.
func NewRedis(ctx context.Context, config RedisConfig, logger *log.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to connect to redis at %s: %v", shared.ErrServiceUnavailable, config.Addr, err)
	}

	return NewRedisWithClient(client, config, logger), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, config RedisConfig, logger *log.Logger) *Redis {
	if config.KeyPrefix == "" {
		config.KeyPrefix = defaultKeyPrefix
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultRetryInterval
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Redis{client: client, config: config, logger: shared.WithLogger(logger, "component", "redis_lock")}
}

// Lock implements [Locker].
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.config.KeyPrefix + key
	token := uuid.New().String()

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.config.LeaseDuration).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: set lock %s: %v", shared.ErrServiceUnavailable, key, err)
		}
		if ok {
			r.logger.Debug("lock acquired", "key", key)
			return r.unlocker(redisKey, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) unlocker(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()

			if err := releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("failed to release lock", "key", redisKey, "error", err)
			}
		})
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
