package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"skyforge/internal/infra"
)

// ObjectPutter is the subset of the S3 client used by S3Store.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Options configures an S3-compatible bucket such as Cloudflare R2 or MinIO.
type S3Options struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	// PublicURL, when set, prefixes returned object URLs instead of the
	// path-style endpoint URL.
	PublicURL string
}

// S3Store copies provider assets into an S3-compatible bucket.
type S3Store struct {
	client    ObjectPutter
	bucket    string
	endpoint  string
	publicURL string
	fetcher   *Fetcher
	logger    infra.Logger
}

// NewS3Store builds a path-style S3 client against a custom endpoint.
func NewS3Store(ctx context.Context, opts S3Options, fetcher *Fetcher, logger *infra.Logger) (*S3Store, error) {
	if opts.Bucket == "" || opts.Endpoint == "" {
		return nil, errors.New("storage: s3 bucket and endpoint are required")
	}
	region := opts.Region
	if region == "" {
		region = "auto"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if opts.AccessKey != "" || opts.SecretKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	// Path-style addressing against the custom endpoint.
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	})
	return NewS3StoreWithClient(client, opts, fetcher, logger), nil
}

// NewS3StoreWithClient wraps an existing client.
func NewS3StoreWithClient(client ObjectPutter, opts S3Options, fetcher *Fetcher, logger *infra.Logger) *S3Store {
	if fetcher == nil {
		fetcher = NewFetcher(FetcherOptions{})
	}
	l := infra.NopLogger()
	if logger != nil {
		l = *logger
	}
	return &S3Store{
		client:    client,
		bucket:    opts.Bucket,
		endpoint:  strings.TrimRight(opts.Endpoint, "/"),
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		fetcher:   fetcher,
		logger:    l,
	}
}

// Store downloads sourceURL and uploads it under key.
func (s *S3Store) Store(ctx context.Context, sourceURL, key string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	asset, err := s.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(cleanKey),
		Body:   bytes.NewReader(asset.Data),
	}
	if asset.ContentType != "" {
		input.ContentType = aws.String(asset.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: upload to %s: %w", s.bucket, err)
	}
	url := s.ObjectURL(cleanKey)
	s.logger.Debug().Str("key", cleanKey).Int("bytes", len(asset.Data)).Msg("storage: object uploaded")
	return url, nil
}

// ObjectURL returns the public URL of key.
func (s *S3Store) ObjectURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return s.endpoint + "/" + s.bucket + "/" + key
}
