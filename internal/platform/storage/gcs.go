package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
)

// GCSStore targets a Google Cloud Storage bucket using application default credentials.
type GCSStore struct {
	client     *gcs.Client
	bucket     string
	publicBase string
}

// NewGCSStore creates the client.
func NewGCSStore(ctx context.Context, cfg Config) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: gcs driver requires a bucket")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: gcs client: %w", err)
	}
	publicBase := cfg.PublicURL
	if publicBase == "" {
		publicBase = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, publicBase: publicBase}, nil
}

// Upload streams the object into the bucket.
func (s *GCSStore) Upload(ctx context.Context, obj Object) (string, error) {
	key, err := CleanKey(obj.Key)
	if err != nil {
		return "", err
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = obj.ContentType
	w.Metadata = obj.Metadata
	if _, err := w.Write(obj.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: gcs close %s: %w", key, err)
	}
	return objectURL(s.publicBase, key), nil
}

// Sign issues a V4 signed GET URL.
func (s *GCSStore) Sign(_ context.Context, objectURLStr string, ttl time.Duration) (string, error) {
	key, err := keyFromURL(s.publicBase, objectURLStr)
	if err != nil {
		return "", err
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("storage: gcs sign %s: %w", key, err)
	}
	return signed, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
