package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	appconfig "drink-check-bot/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the part of *s3.Client used for photo storage
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3PhotoStorage stores accepted photos in an S3-compatible bucket
type S3PhotoStorage struct {
	client        S3API
	bucket        string
	prefix        string
	publicBaseURL string
}

// NewS3PhotoStorage builds the S3 client. Static keys are used when set,
// otherwise the default AWS credential chain.
func NewS3PhotoStorage(ctx context.Context, cfg appconfig.S3Config) (*S3PhotoStorage, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		publicBaseURL = defaultPublicBaseURL(cfg)
	}

	return NewS3PhotoStorageWithClient(client, cfg.Bucket, cfg.Prefix, publicBaseURL), nil
}

// NewS3PhotoStorageWithClient wires an existing client
func NewS3PhotoStorageWithClient(client S3API, bucket, prefix, publicBaseURL string) *S3PhotoStorage {
	return &S3PhotoStorage{
		client:        client,
		bucket:        bucket,
		prefix:        prefix,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
	}
}

// Store uploads data under prefix+name
func (s *S3PhotoStorage) Store(ctx context.Context, data []byte, name, mimeType string) (*StoredPhoto, error) {
	key := s.prefix + name
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mimeType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, &StorageError{Name: key, Err: err}
	}

	return &StoredPhoto{
		Ref:       key,
		PublicURL: s.publicBaseURL + "/" + key,
	}, nil
}

func defaultPublicBaseURL(cfg appconfig.S3Config) string {
	if cfg.Endpoint != "" {
		return strings.TrimSuffix(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
}
