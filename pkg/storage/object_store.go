package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore provides versioned object storage. Revision IDs are opaque
// strings; equality across ledger rows is meaningful and is how the ledger
// decides whether two stage tags point at the same artifact.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) (string, error)
	Get(ctx context.Context, key, revisionID string) ([]byte, error)
	Delete(ctx context.Context, key, revisionID string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// MinioStore implements ObjectStore against a versioned MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists with
// versioning enabled. Versioning is required: every Put must yield a distinct
// revision ID.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	if err := client.EnableVersioning(ctx, bucket); err != nil {
		return nil, fmt.Errorf("enable bucket versioning: %w", err)
	}
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Put uploads an object revision and returns its revision ID.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	info, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return info.VersionID, nil
}

// Get downloads a specific object revision.
func (m *MinioStore) Get(ctx context.Context, key, revisionID string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{VersionID: revisionID})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

// Delete removes one object revision.
func (m *MinioStore) Delete(ctx context.Context, key, revisionID string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{VersionID: revisionID}); err != nil {
		return fmt.Errorf("delete object revision: %w", err)
	}
	return nil
}

// Exists reports whether any revision of key is present.
func (m *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

// PutBytes is a convenience wrapper for small transcript payloads.
func PutBytes(ctx context.Context, s ObjectStore, key string, data []byte) (string, error) {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}
