// Package avatar stores user avatars in a MinIO/S3 bucket.
package avatar

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// ErrUnsupportedType is returned for anything but JPG/PNG/GIF.
	ErrUnsupportedType = fmt.Errorf("unsupported image type")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = fmt.Errorf("image too large")
)

var extensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	MaxBytes  int64
}

type Service struct {
	client *minio.Client
	bucket string
	max    int64
}

func NewService(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Service{client: client, bucket: cfg.Bucket, max: cfg.MaxBytes}, nil
}

// Upload validates and stores an avatar, returning the object path to
// persist on the user row. Validation happens before any storage call.
func (s *Service) Upload(ctx context.Context, userID, contentType string, size int64, body io.Reader) (string, error) {
	ext, ok := extensions[strings.ToLower(contentType)]
	if !ok {
		return "", ErrUnsupportedType
	}
	if s.max > 0 && size > s.max {
		return "", ErrTooLarge
	}

	objectName := fmt.Sprintf("%s_%d.%s", userID, time.Now().Unix(), ext)
	_, err := s.client.PutObject(ctx, s.bucket, objectName, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}
	return "/" + path.Join(s.bucket, objectName), nil
}

// Remove deletes a previously stored avatar. Unknown or external paths
// are ignored so a failed cleanup never blocks an upload.
func (s *Service) Remove(ctx context.Context, avatarURL string) error {
	prefix := "/" + s.bucket + "/"
	if !strings.HasPrefix(avatarURL, prefix) {
		return nil
	}
	objectName := strings.TrimPrefix(avatarURL, prefix)
	if err := s.client.RemoveObject(ctx, s.bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove avatar: %w", err)
	}
	return nil
}

// MaxBytes exposes the configured size limit for error messages.
func (s *Service) MaxBytes() int64 {
	return s.max
}
