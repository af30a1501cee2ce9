package lease

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/github/deploylock"
	s3client "github.com/github/deploylock/pkg/s3/client"
)

const defaultS3Prefix = "leases"

// S3Config S3 lease configuration
type S3Config struct {
	Client *s3.Client
	// AWS endpoint (used for testing)
	Endpoint string
	// AWS Region
	Region string
	// Name of the S3 bucket
	Bucket string
	// Prefix of the lease objects. Defaults to "leases"
	Prefix string
	// Duration after which a lease is considered expired. Defaults to DefaultLeaseDuration
	LeaseDuration time.Duration
	// Interval between checks while waiting for a lease. Defaults to one second
	PollInterval time.Duration
}

// S3 is a lease service backed by a S3 bucket
type S3 struct {
	client        *s3.Client
	bucket        string
	prefix        string
	leaseDuration time.Duration
	pollInterval  time.Duration
}

// NewS3 creates a lease service backed by a S3 bucket.
// The lease is obtained when it is the oldest non-expired lease for the given id.
// The lease is released by deleting the object.
// A lease is considered expired if it is older than the most recent one by more than the lease duration.
func NewS3(ctx context.Context, conf S3Config) (*S3, error) {
	var err error

	if conf.Bucket == "" {
		return nil, fmt.Errorf("%w: bucket name cannot be empty", ErrConfig)
	}

	client := conf.Client
	if client == nil {
		client, err = s3client.New(ctx, s3client.Config{
			Region:   conf.Region,
			Endpoint: conf.Endpoint,
		})
		if err != nil {
			return nil, deploylock.NewWrappedError(ErrConfig, err)
		}
	}

	prefix := conf.Prefix
	if prefix == "" {
		prefix = defaultS3Prefix
	}

	leaseDuration := conf.LeaseDuration
	if leaseDuration == 0 {
		leaseDuration = DefaultLeaseDuration
	}

	pollInterval := conf.PollInterval
	if pollInterval == 0 {
		pollInterval = time.Second
	}

	return &S3{
		client:        client,
		bucket:        conf.Bucket,
		prefix:        prefix,
		leaseDuration: leaseDuration,
		pollInterval:  pollInterval,
	}, nil
}

// Lock creates a lease for the given id. The lease is released when the returned function is called
func (s *S3) Lock(ctx context.Context, id string) (func(context.Context) error, error) {
	keyPrefix := path.Join(s.prefix, id) + ".lease."
	leaseID := keyPrefix + uuid.NewString()
	_, err := s.client.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(leaseID),
			Body:   bytes.NewReader([]byte{}),
		},
	)
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrLeasing, err)
	}

	release := func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(leaseID),
		})
		if err != nil {
			return deploylock.NewWrappedError(ErrLeasing, err)
		}
		return nil
	}

	for {
		// leases for the same id are few and short lived, so a single page returns all of them
		result, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(keyPrefix),
		})
		if err != nil {
			_ = release(context.Background())
			return nil, deploylock.NewWrappedError(ErrLeasing, err)
		}

		leases := result.Contents
		sort.Slice(leases, func(i, j int) bool {
			return leases[i].LastModified.Before(*leases[j].LastModified)
		})

		if len(leases) <= 1 {
			return release, nil
		}

		// skip the leases older than the most recent one by more than the lease duration
		first := 0
		last := len(leases) - 1
		for _, l := range leases {
			if l.LastModified.After(leases[last].LastModified.Add(-s.leaseDuration)) {
				break
			}
			first++
		}

		if *leases[first].Key == leaseID {
			return release, nil
		}

		select {
		case <-time.After(s.pollInterval):
		case <-ctx.Done():
			_ = release(context.Background())
			return nil, deploylock.NewWrappedError(ErrLeasing, ctx.Err())
		}
	}
}
