package sbom

import (
	"bytes"
	"context"
	"fmt"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/modelguard/modelguard/internal/config"
)

// Store uploads emitted manifests to an S3-compatible object store.
type Store struct {
	mc     *minio.Client
	bucket string
}

// NewStore creates a Store from the object-store configuration.
func NewStore(cfg config.ObjectStoreConfig) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("object store endpoint cannot be empty")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("object store bucket cannot be empty")
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Store{mc: mc, bucket: cfg.Bucket}, nil
}

// Upload writes one manifest under the scan's key and returns the object
// reference recorded on the Scan.
func (s *Store) Upload(ctx context.Context, tenantID, scanID string, manifest []byte) (string, error) {
	key := fmt.Sprintf("%s/%s/manifest.cdx.json", tenantID, scanID)
	_, err := s.mc.PutObject(ctx, s.bucket, key, bytes.NewReader(manifest), int64(len(manifest)),
		minio.PutObjectOptions{ContentType: "application/vnd.cyclonedx+json"})
	if err != nil {
		return "", fmt.Errorf("failed to upload manifest %s: %w", key, err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
