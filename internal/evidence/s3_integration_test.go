//go:build integration

package evidence

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"

	"github.com/kenchrcum/forensic-carver/internal/config"
	"github.com/kenchrcum/forensic-carver/internal/s3"
)

// TestS3Source_Integration spins up a real MinIO container and exercises
// OpenS3/ReadAt against it the way a run against an S3-compatible
// evidence container would, instead of the in-memory Client fake the
// rest of this package's tests use. It only runs with -tags=integration
// since it needs a Docker daemon.
func TestS3Source_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mc, err := minio.Run(ctx, "minio/minio:RELEASE.2024-01-16T16-07-38Z")
	require.NoError(t, err)
	defer func() { require.NoError(t, mc.Terminate(ctx)) }()

	connStr, err := mc.ConnectionString(ctx)
	require.NoError(t, err)

	const (
		bucket = "evidence"
		key    = "image.dd"
	)
	payload := bytes.Repeat([]byte("FORENSIC-CARVER-INTEGRATION-"), 1024)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(mc.Username, mc.Password, "")),
	)
	require.NoError(t, err)

	raw := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String("http://" + connStr)
		o.UsePathStyle = true
	})
	_, err = raw.CreateBucket(ctx, &awss3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)
	_, err = raw.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	require.NoError(t, err)

	client, err := s3.NewClient(&config.BackendConfig{
		Provider:  "minio",
		Region:    "us-east-1",
		Endpoint:  "http://" + connStr,
		AccessKey: mc.Username,
		SecretKey: mc.Password,
	})
	require.NoError(t, err)

	src, err := OpenS3(ctx, client, bucket, key)
	require.NoError(t, err)
	defer src.Close()

	require.Equal(t, uint64(len(payload)), src.Len())

	buf := make([]byte, 64)
	n, err := src.ReadAt(29, buf)
	require.NoError(t, err)
	require.Equal(t, string(payload[29:29+n]), string(buf[:n]))
}
