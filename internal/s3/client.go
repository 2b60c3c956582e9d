// Package s3 wraps the AWS SDK v2 client behind the two operations an
// S3-hosted evidence image needs: discovering the object's length and
// fetching arbitrary byte ranges of it. Provider-specific endpoint and
// region defaults for the S3-compatible stores an evidence image might
// live on (MinIO, Hetzner, the commodity clouds) come from providers.go.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/kenchrcum/forensic-carver/internal/config"
)

// Client is the range-read surface the evidence source consumes. The
// evidence image is opened read-only and never listed, written, or
// deleted, so nothing beyond these two calls is exposed.
type Client interface {
	// GetObjectRange fetches the byte range [offset, offset+length) of an
	// object via the HTTP Range header, the access pattern the evidence
	// source uses to pull one chunk at a time instead of reading the
	// whole image into memory.
	GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)

	// ObjectSize returns an object's total content length, used once at
	// evidence-source startup to bound chunk planning.
	ObjectSize(ctx context.Context, bucket, key string) (int64, error)
}

// IsNotFound reports whether err is the backend saying the object or
// bucket does not exist, as opposed to a transport or credential
// failure. Callers use this to distinguish "wrong evidence key" (a
// configuration error, fatal at startup) from a retryable fault.
func IsNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return true
		}
	}
	return false
}

// IsThrottled reports whether err is the backend asking the caller to
// slow down.
func IsThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
			return true
		}
	}
	return false
}

// s3Client implements the Client interface using AWS SDK v2.
type s3Client struct {
	client *s3.Client
}

// NewClient builds a Client for the configured provider, resolving the
// endpoint and region through the known-provider table, so a bare
// `provider: minio` with no endpoint gets MinIO's default endpoint and
// region rather than AWS's; an empty or unknown provider is rejected.
func NewClient(cfg *config.BackendConfig) (Client, error) {
	endpoint, region, err := ValidateProviderConfig(cfg.Endpoint, cfg.Provider, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("backend provider: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Options := []func(*s3.Options){}
	if endpoint != "" && cfg.Provider != "aws" {
		pathStyle := RequiresPathStyleAddressing(cfg.Provider)
		s3Options = append(s3Options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = pathStyle
		})
	}

	return &s3Client{client: s3.NewFromConfig(awsCfg, s3Options...)}, nil
}

func (c *s3Client) GetObjectRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	}

	result, err := c.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to get object range %s/%s [%d,%d): %w", bucket, key, offset, offset+length, err)
	}
	return result.Body, nil
}

func (c *s3Client) ObjectSize(ctx context.Context, bucket, key string) (int64, error) {
	input := &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}

	result, err := c.client.HeadObject(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to head object %s/%s: %w", bucket, key, err)
	}
	return aws.ToInt64(result.ContentLength), nil
}
