// Package client creates the s3 client shared by the s3 store and the s3 lease
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/github/deploylock"
)

var ErrConfig = errors.New("configuring S3 client") //nolint:revive

// Config S3 client configuration
type Config struct {
	// AWS endpoint. Setting it enables path-style addressing (used for testing and S3-compatible stores)
	Endpoint string
	// AWS Region
	Region string
	// Static credentials. If not set, the default credential chain is used
	AccessKeyID     string
	SecretAccessKey string
}

func (c Config) validate() error {
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("%w: access key id and secret access key must be set together", ErrConfig)
	}
	return nil
}

// New creates an s3 client
func New(ctx context.Context, conf Config) (*s3.Client, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if conf.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(conf.Region))
	}
	if conf.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(conf.AccessKeyID, conf.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, deploylock.NewWrappedError(ErrConfig, err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if conf.Endpoint != "" {
			o.BaseEndpoint = aws.String(conf.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}
