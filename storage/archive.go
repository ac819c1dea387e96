// Package storage archives raw uploaded files in MinIO/S3 so the original
// bytes survive after extraction has normalized them into rows. Archiving is
// optional and best-effort; the workflow proceeds without it.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxArchiveBytes int64 = 32 * 1024 * 1024

// Archive stores raw uploads beneath uploads/<owner_id>/.
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchiveFromEnv initialises the archive using MINIO_* environment
// variables. Returns (nil, nil) when they are absent, which disables
// archiving.
func NewArchiveFromEnv() (*Archive, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("storage: check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("storage: create bucket: %w", err)
		}
	}

	return &Archive{client: client, bucket: bucket}, nil
}

// Store writes the raw file under uploads/<owner_id>/<uuid><ext> and returns
// the object key. Nil-safe so callers skip the check when archiving is
// disabled.
func (a *Archive) Store(ctx context.Context, ownerID, filename string, data []byte) (string, error) {
	if a == nil || a.client == nil {
		return "", nil
	}
	if strings.TrimSpace(ownerID) == "" {
		return "", errors.New("storage: owner id is required")
	}
	if int64(len(data)) > maxArchiveBytes {
		return "", fmt.Errorf("storage: file exceeds %d bytes", maxArchiveBytes)
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".csv"
	}
	objectName := path.Join("uploads", strings.Trim(ownerID, "/"), uuid.NewString()+ext)

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	_, err := a.client.PutObject(uploadCtx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", fmt.Errorf("storage: archive upload: %w", err)
	}
	return objectName, nil
}

// Remove deletes an archived object. Missing objects are not an error.
func (a *Archive) Remove(ctx context.Context, objectName string) error {
	if a == nil || a.client == nil || strings.TrimSpace(objectName) == "" {
		return nil
	}

	removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return a.client.RemoveObject(removeCtx, a.bucket, objectName, minio.RemoveObjectOptions{})
}

// PresignedURL returns a temporary download link for an archived object.
func (a *Archive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	if a == nil || a.client == nil {
		return "", errors.New("storage: archive not configured")
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}

	presignCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	url, err := a.client.PresignedGetObject(presignCtx, a.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("storage: presign archive object: %w", err)
	}
	return url.String(), nil
}
