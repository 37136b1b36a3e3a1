package fetch

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioObjects serves s3:// image URLs from any S3-compatible endpoint.
type MinioObjects struct {
	client *minio.Client
}

// NewMinioObjects connects to endpoint with static credentials.
func NewMinioObjects(endpoint, accessKey, secretKey string, useSSL bool) (*MinioObjects, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &MinioObjects{client: client}, nil
}

// GetObject reads bucket/key fully, bounded by MaxImageBytes.
func (m *MinioObjects) GetObject(ctx context.Context, bucket, key string) ([]byte, string, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, "", err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", err
	}
	if info.Size > MaxImageBytes {
		return nil, "", fmt.Errorf("object %s/%s exceeds %d bytes", bucket, key, MaxImageBytes)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", err
	}
	return data, info.ContentType, nil
}
