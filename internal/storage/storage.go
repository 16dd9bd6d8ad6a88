// Package storage wraps the S3-compatible object store used for upload
// variants, generated embeds, and usage archives. It never interprets file
// contents — everything it is handed is already encrypted by its caller.
package storage

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openmates/core/internal/config"
)

var logger = log.New(os.Stdout, "[storage] ", log.LstdFlags)

type Service struct {
	client       *minio.Client
	bucketName   string
	bucketRegion string
}

// New connects to the configured S3-compatible endpoint and ensures the
// bucket exists with the lifecycle policy this module expects.
func New(cfg *config.Config) (*Service, error) {
	endpoint := cfg.S3Endpoint
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	bucketName := cfg.S3Bucket
	if bucketName == "" {
		bucketName = "chatfiles"
	}

	svc := &Service{client: client, bucketName: bucketName, bucketRegion: cfg.S3Region}
	if err := svc.bootstrap(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to bootstrap bucket: %w", err)
	}
	return svc, nil
}

// bootstrap creates the bucket if missing, and applies a lifecycle rule that
// aborts incomplete multipart uploads after 7 days (a failure to set it is
// only logged). It sets no CORS policy on the bucket.
func (s *Service) bootstrap(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.bucketRegion}); err != nil {
			return err
		}
		logger.Printf("created bucket: %s", s.bucketName)
	}

	lifecycleCfg := `<LifecycleConfiguration>
  <Rule>
    <ID>abort-incomplete-multipart-uploads</ID>
    <Status>Enabled</Status>
    <Filter><Prefix></Prefix></Filter>
    <AbortIncompleteMultipartUpload><DaysAfterInitiation>7</DaysAfterInitiation></AbortIncompleteMultipartUpload>
  </Rule>
</LifecycleConfiguration>`
	if err := s.client.SetBucketLifecycleXML(ctx, s.bucketName, lifecycleCfg); err != nil {
		logger.Printf("WARN failed to set bucket lifecycle: %v", err)
	}

	return nil
}

// PresignedUploadURL issues a short-lived PUT URL under key, used by
// clients that upload directly rather than through the Upload Service.
func (s *Service) PresignedUploadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucketName, key, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign upload: %w", err)
	}
	return u.String(), time.Now().Add(ttl), nil
}

// PresignedDownloadURL issues a short-lived GET URL under key.
func (s *Service) PresignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, ttl, nil)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign download: %w", err)
	}
	return u.String(), time.Now().Add(ttl), nil
}

// Put uploads bytes under key.
func (s *Service) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}

// Get downloads the object at key.
func (s *Service) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to download object %s: %w", key, err)
	}
	return obj, nil
}

// Exists reports whether an object is present, used by the upload
// deduplication path to detect stale dedup records after an out-of-band
// S3 deletion.
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return true, nil
}

// Delete removes the object at key.
func (s *Service) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}
