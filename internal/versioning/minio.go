package versioning

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/quakewatch/pipeline/pkg/fingerprint"
	"github.com/quakewatch/pipeline/pkg/logger"
)

const fingerprintMetadataKey = "Fingerprint"

// MinioSink writes artifacts to an S3-compatible object store, stamping the
// content fingerprint into object user metadata for the idempotence check.
type MinioSink struct {
	client *minio.Client
	bucket string
	region string
}

func NewMinioSink(endpoint, accessKey, secretKey, bucket, region string, useSSL bool) (*MinioSink, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	logger.Info("MinIO sink initialized",
		zap.String("endpoint", endpoint),
		zap.String("bucket", bucket),
	)

	return &MinioSink{client: client, bucket: bucket, region: region}, nil
}

func (s *MinioSink) Name() string {
	return "minio"
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioSink) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %q: %w", s.bucket, err)
	}
	logger.Info("Created bucket", zap.String("bucket", s.bucket))
	return nil
}

func (s *MinioSink) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
			UserMetadata: map[string]string{
				fingerprintMetadataKey: "sha256:" + fingerprint.Sum(data),
			},
		})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

func (s *MinioSink) FingerprintExists(ctx context.Context, key, fp string) (bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" || resp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat s3://%s/%s: %w", s.bucket, key, err)
	}
	return info.UserMetadata[fingerprintMetadataKey] == "sha256:"+fp, nil
}
