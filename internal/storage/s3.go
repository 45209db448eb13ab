// Package storage holds payment-proof images in S3-compatible object
// storage and produces time-limited URLs for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// S3Config holds object storage connection settings. Endpoint is optional
// and used for S3-compatible providers (MinIO, R2) alongside path-style
// addressing.
type S3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"-"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`
}

// Configured reports whether an object storage block was provided at all.
func (c *S3Config) Configured() bool {
	return c.Bucket != ""
}

// Validate checks if the object storage configuration is valid.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return fmt.Errorf("s3 bucket is required")
	}
	if c.Region == "" {
		return fmt.Errorf("s3 region is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("s3 credentials are required")
	}
	return nil
}

// ProofStore signs read access to proof objects in a single bucket.
type ProofStore struct {
	bucket  string
	presign *s3.PresignClient
	client  *s3.Client
	logger  zerolog.Logger
}

// NewProofStore creates a proof store from the given configuration.
func NewProofStore(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*ProofStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid s3 config: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &ProofStore{
		bucket:  cfg.Bucket,
		presign: s3.NewPresignClient(client),
		client:  client,
		logger:  logger.With().Str("component", "proof_store").Logger(),
	}, nil
}

// PresignGet returns a URL that reads the object for the given lifetime.
// The URL carries its own signature; no further authentication is needed
// to use it.
func (p *ProofStore) PresignGet(ctx context.Context, objectKey string, ttl time.Duration) (string, error) {
	req, err := p.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign get for %s: %w", objectKey, err)
	}

	p.logger.Debug().
		Str("object_key", objectKey).
		Dur("ttl", ttl).
		Msg("presigned proof object")

	return req.URL, nil
}

// Exists reports whether the proof object is present in the bucket.
func (p *ProofStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head object %s: %w", objectKey, err)
	}
	return true, nil
}
