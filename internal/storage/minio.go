package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Expiry of presigned URLs; defaults to the length of a long test.
	Expiry time.Duration
}

// MinioStore presigns GET URLs for objects in one bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewMinioStore(ctx context.Context, o MinioOptions) (*MinioStore, error) {
	client, err := minio.New(o.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(o.AccessKey, o.SecretKey, ""),
		Secure: o.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, o.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket %s: %w", o.Bucket, err)
	}
	if !exists {
		log.Printf("minio: bucket %s does not exist; image URLs will 404", o.Bucket)
	}
	if o.Expiry <= 0 {
		o.Expiry = 4 * time.Hour
	}
	return &MinioStore{client: client, bucket: o.Bucket, expiry: o.Expiry}, nil
}

func (s *MinioStore) SignedURL(ctx context.Context, key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, k, s.expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}
