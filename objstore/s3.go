// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/luxfi/log"
	"go.uber.org/zap"

	"github.com/hyra-network/scribe-ledger/config"
)

// S3 is the Client implementation over any S3-compatible endpoint.
// Path-style addressing serves MinIO; virtual-host style serves AWS.
type S3 struct {
	client *s3.Client
	bucket string
	log    log.Logger
	retry  *retryPolicy
}

var _ Client = (*S3)(nil)

// NewS3 builds a client from cfg. The SDK's own retry layer is disabled;
// the retry policy here owns the backoff schedule.
func NewS3(ctx context.Context, cfg config.S3Config, logger log.Logger) (*S3, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
		awsconfig.WithHTTPClient(&http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        cfg.PoolSize,
				MaxIdleConnsPerHost: cfg.PoolSize,
			},
		}),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		o.RetryMaxAttempts = 1
	})

	return &S3{
		client: client,
		bucket: cfg.Bucket,
		log:    logger,
		retry:  newRetryPolicy(cfg.MaxRetries),
	}, nil
}

// PutObject stores body under key.
func (s *S3) PutObject(ctx context.Context, key string, body []byte) error {
	return s.retry.do(ctx, func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(body),
		})
		if err != nil {
			s.log.Debug("put object failed", zap.String("key", key), zap.Error(err))
			return classify(err)
		}
		return nil
	})
}

// GetObject returns the object stored under key.
func (s *S3) GetObject(ctx context.Context, key string) ([]byte, error) {
	var body []byte
	err := s.retry.do(ctx, func(ctx context.Context) error {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(err)
		}
		defer out.Body.Close()
		body, err = io.ReadAll(out.Body)
		if err != nil {
			return Categorize(Network, err)
		}
		return nil
	})
	return body, err
}

// DeleteObject removes key.
func (s *S3) DeleteObject(ctx context.Context, key string) error {
	return s.retry.do(ctx, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return classify(err)
		}
		return nil
	})
}

// ListPrefix returns every key under prefix. S3 lists in lexicographic
// order, which the zero-padded segment keys rely on.
func (s *S3) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.retry.do(ctx, func(ctx context.Context) error {
		keys = keys[:0]
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return classify(err)
			}
			for _, obj := range page.Contents {
				keys = append(keys, aws.ToString(obj.Key))
			}
		}
		return nil
	})
	return keys, err
}

// HealthCheck verifies the bucket is reachable.
func (s *S3) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps SDK failures into the retry categories.
func classify(err error) error {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return Categorize(NotFound, err)
	}
	var notFound *s3types.NotFound
	if errors.As(err, &notFound) {
		return Categorize(NotFound, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return Categorize(NotFound, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return Categorize(PermissionDenied, err)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return Categorize(Transient, err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return Categorize(Transient, err)
		}
		return Categorize(Fatal, err)
	}

	// No API response at all: the transport failed.
	switch CategoryOf(err) {
	case Timeout:
		return Categorize(Timeout, err)
	default:
		return Categorize(Network, err)
	}
}
