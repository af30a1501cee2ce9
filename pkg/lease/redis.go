package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/github/deploylock"
)

const defaultRedisPrefix = "deploylock:lease"

// releases the lease only if it is still held by the given token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisConfig redis lease configuration
type RedisConfig struct {
	// Redis client. Required
	Client redis.UniversalClient
	// Prefix of the lease keys. Defaults to "deploylock:lease"
	Prefix string
	// Time to live of a lease. Defaults to DefaultLeaseDuration
	LeaseDuration time.Duration
	// Interval between attempts while waiting for a lease. Defaults to 100ms
	PollInterval time.Duration
}

// Redis is a lease service backed by redis keys with an expiration
type Redis struct {
	client        redis.UniversalClient
	prefix        string
	leaseDuration time.Duration
	pollInterval  time.Duration
}

// NewRedis returns a lease service backed by redis
func NewRedis(conf RedisConfig) (*Redis, error) {
	if conf.Client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrConfig)
	}

	prefix := conf.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	leaseDuration := conf.LeaseDuration
	if leaseDuration == 0 {
		leaseDuration = DefaultLeaseDuration
	}

	pollInterval := conf.PollInterval
	if pollInterval == 0 {
		pollInterval = 100 * time.Millisecond
	}

	return &Redis{
		client:        conf.Client,
		prefix:        prefix,
		leaseDuration: leaseDuration,
		pollInterval:  pollInterval,
	}, nil
}

// Lock reserves the lease for the given id and returns a function that will release it
func (r *Redis) Lock(ctx context.Context, id string) (func(context.Context) error, error) {
	key := fmt.Sprintf("%s:%s", r.prefix, id)
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, r.leaseDuration).Result()
		if err != nil {
			return nil, deploylock.NewWrappedError(ErrLeasing, err)
		}
		if ok {
			break
		}

		select {
		case <-time.After(r.pollInterval):
		case <-ctx.Done():
			return nil, deploylock.NewWrappedError(ErrLeasing, ctx.Err())
		}
	}

	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, r.client, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return deploylock.NewWrappedError(ErrLeasing, err)
		}
		return nil
	}, nil
}
