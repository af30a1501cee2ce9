// Package local creates a lock service running in-process, backed by the store and the lease
// selected in the configuration
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/github/deploylock"
	"github.com/github/deploylock/pkg/config"
	"github.com/github/deploylock/pkg/github"
	"github.com/github/deploylock/pkg/lease"
	"github.com/github/deploylock/pkg/locker"
	"github.com/github/deploylock/pkg/report"
	s3client "github.com/github/deploylock/pkg/s3/client"
	"github.com/github/deploylock/pkg/store"
	"github.com/github/deploylock/pkg/store/file"
	"github.com/github/deploylock/pkg/store/memory"
	redisstore "github.com/github/deploylock/pkg/store/redis"
	s3store "github.com/github/deploylock/pkg/store/s3"
)

var ErrInitializingService = errors.New("initializing lock service") //nolint:revive

// Options are the dependencies of the service that are not part of the configuration
type Options struct {
	// Reporter for interactive requests. Defaults to logging the messages
	Reporter   report.Reporter
	Log        *slog.Logger
	Registerer prometheus.Registerer
}

// backends shares the clients used by the store and the lease
type backends struct {
	conf   config.Config
	redis  redis.UniversalClient
	github *github.Client
	s3     *s3.Client
}

func (b *backends) redisClient() redis.UniversalClient {
	if b.redis == nil {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     b.conf.Redis.Addr,
			Password: b.conf.Redis.Password,
			DB:       b.conf.Redis.DB,
		})
	}
	return b.redis
}

func (b *backends) s3Client(ctx context.Context) (*s3.Client, error) {
	if b.s3 != nil {
		return b.s3, nil
	}

	client, err := s3client.New(ctx, s3client.Config{
		Endpoint:        b.conf.S3.Endpoint,
		Region:          b.conf.S3.Region,
		AccessKeyID:     b.conf.S3.AccessKeyID,
		SecretAccessKey: b.conf.S3.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	b.s3 = client
	return client, nil
}

func (b *backends) githubClient() (*github.Client, error) {
	if b.github != nil {
		return b.github, nil
	}

	client, err := github.NewClient(github.Config{
		APIURL:     b.conf.GitHub.APIURL,
		Token:      b.conf.GitHub.Token,
		Repository: b.conf.GitHub.Repository,
	})
	if err != nil {
		return nil, err
	}
	b.github = client
	return client, nil
}

// NewLocker creates a lock service using the given configuration
func NewLocker(ctx context.Context, conf config.Config, opts Options) (*locker.Locker, error) {
	b := &backends{conf: conf}

	refStore, err := b.store(ctx)
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrInitializingService, err)
	}

	claimLease, err := b.lease(ctx)
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrInitializingService, err)
	}

	policy, err := locker.ParseGlobalOwnerPolicy(conf.GlobalOwnerPolicy)
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrInitializingService, err)
	}

	return locker.New(ctx, locker.Config{
		Store:             refStore,
		Reporter:          opts.Reporter,
		Lease:             claimLease,
		GlobalFlag:        conf.Commands.GlobalFlag,
		LockTrigger:       conf.Commands.LockTrigger,
		UnlockTrigger:     conf.Commands.UnlockTrigger,
		GlobalOwnerPolicy: policy,
		Log:               opts.Log,
		Registerer:        opts.Registerer,
	})
}

// NewStore creates the ref store selected in the configuration
func NewStore(ctx context.Context, conf config.Config) (store.RefStore, error) {
	b := &backends{conf: conf}
	return b.store(ctx)
}

// NewLease creates the lease selected in the configuration. Returns nil if no lease is configured.
func NewLease(ctx context.Context, conf config.Config) (lease.Lease, error) {
	b := &backends{conf: conf}
	return b.lease(ctx)
}

func (b *backends) store(ctx context.Context) (store.RefStore, error) {
	conf := b.conf

	switch conf.Store.Type {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreFile:
		if conf.Store.Dir == "" {
			return file.NewTempFileStore()
		}
		return file.NewFileStore(conf.Store.Dir)
	case config.StoreS3:
		client, err := b.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return s3store.New(ctx, s3store.Config{
			Bucket:        conf.S3.Bucket,
			Client:        client,
			DefaultBranch: conf.Store.DefaultBranch,
		})
	case config.StoreRedis:
		return redisstore.New(redisstore.Config{
			Client:        b.redisClient(),
			Prefix:        conf.Store.Prefix,
			DefaultBranch: conf.Store.DefaultBranch,
		})
	case config.StoreGitHub:
		client, err := b.githubClient()
		if err != nil {
			return nil, err
		}
		return github.NewStore(client), nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", deploylock.ErrInvalidConfig, conf.Store.Type)
	}
}

func (b *backends) lease(ctx context.Context) (lease.Lease, error) {
	conf := b.conf

	switch conf.Lease.Type {
	case config.LeaseNone, "":
		return nil, nil //nolint:nilnil
	case config.LeaseMemory:
		return lease.NewMemory(), nil
	case config.LeaseRedis:
		return lease.NewRedis(lease.RedisConfig{
			Client:        b.redisClient(),
			Prefix:        conf.Lease.Prefix,
			LeaseDuration: conf.Lease.Duration,
			PollInterval:  conf.Lease.PollInterval,
		})
	case config.LeaseS3:
		client, err := b.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		return lease.NewS3(ctx, lease.S3Config{
			Bucket:        conf.S3.Bucket,
			Client:        client,
			Prefix:        conf.Lease.Prefix,
			LeaseDuration: conf.Lease.Duration,
			PollInterval:  conf.Lease.PollInterval,
		})
	default:
		return nil, fmt.Errorf("%w: unknown lease type %q", deploylock.ErrInvalidConfig, conf.Lease.Type)
	}
}
