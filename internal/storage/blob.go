package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/mind-engage/examprep/internal/config"
)

// ImageSigner turns an object key from a question into a URL the browser can load.
type ImageSigner interface {
	SignedURL(ctx context.Context, key string) (string, error)
}

var ErrBadKey = errors.New("invalid object key")

// New picks the signer named by cfg.BlobDriver.
func New(ctx context.Context, cfg config.Config) (ImageSigner, error) {
	switch cfg.BlobDriver {
	case "", "fs":
		return NewFSStore(cfg.BlobBasePath, cfg.AssetBaseURL)
	case "minio":
		return NewMinioStore(ctx, MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.BlobDriver)
	}
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	if k == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return strings.TrimPrefix(k, "/"), nil
}
