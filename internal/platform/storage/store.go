// Package storage uploads order attachments to blob storage and hands out
// time-limited read links for them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// Drivers supported by New.
const (
	DriverLocal = "local"
	DriverS3    = "s3"
	DriverGCS   = "gcs"
)

var (
	// ErrInvalidKey rejects keys that are empty or escape the store root.
	ErrInvalidKey = errors.New("storage: invalid object key")
	// ErrForeignURL is returned when asked to sign a URL the store did not issue.
	ErrForeignURL = errors.New("storage: url not issued by this store")
	// ErrBadSignature is returned by the local store for tampered or expired links.
	ErrBadSignature = errors.New("storage: signature invalid or expired")
)

// Object is a single upload.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
	Metadata    map[string]string
}

// Store persists objects and returns their durable URL.
type Store interface {
	Upload(ctx context.Context, obj Object) (string, error)
	Sign(ctx context.Context, objectURL string, ttl time.Duration) (string, error)
}

// Config selects and configures a driver.
type Config struct {
	Driver            string
	Bucket            string
	PublicURL         string
	LocalDir          string
	SigningSecret     string
	S3Endpoint        string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// New builds the store named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverLocal:
		return NewLocalStore(cfg.LocalDir, cfg.PublicURL, cfg.SigningSecret)
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverGCS:
		return NewGCSStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

// CleanKey normalises an object key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	if key == "" {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

func objectURL(base, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}

func keyFromURL(base, objectURLStr string) (string, error) {
	base = strings.TrimRight(base, "/") + "/"
	if !strings.HasPrefix(objectURLStr, base) {
		return "", ErrForeignURL
	}
	raw := strings.TrimPrefix(objectURLStr, base)
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	key, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignURL, err)
	}
	return CleanKey(key)
}
