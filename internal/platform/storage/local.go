package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// LocalStore writes objects below a directory and serves them back through
// Handler with HMAC-signed, expiring links.
type LocalStore struct {
	dir     string
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewLocalStore prepares dir and returns a store whose URLs start with baseURL.
func NewLocalStore(dir, baseURL, secret string) (*LocalStore, error) {
	if dir == "" {
		dir = "./uploads"
	}
	if baseURL == "" {
		baseURL = "/files"
	}
	if secret == "" {
		return nil, errors.New("storage: local driver requires a signing secret")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create upload dir: %w", err)
	}
	return &LocalStore{dir: dir, baseURL: baseURL, secret: []byte(secret), now: time.Now}, nil
}

// Upload writes the object atomically and returns its URL.
func (s *LocalStore) Upload(_ context.Context, obj Object) (string, error) {
	key, err := CleanKey(obj.Key)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp: %w", err)
	}
	if _, err := tmp.Write(obj.Data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("storage: rename: %w", err)
	}
	return objectURL(s.baseURL, key), nil
}

// Sign appends an expiry and signature to a URL issued by Upload.
func (s *LocalStore) Sign(_ context.Context, objectURLStr string, ttl time.Duration) (string, error) {
	key, err := keyFromURL(s.baseURL, objectURLStr)
	if err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("signature", s.signature(key, expires))
	return objectURL(s.baseURL, key) + "?" + q.Encode(), nil
}

// Verify checks a signature produced by Sign.
func (s *LocalStore) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > exp {
		return ErrBadSignature
	}
	want, err := hex.DecodeString(s.signature(key, expires))
	if err != nil {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(signature)
	if err != nil || !hmac.Equal(want, got) {
		return ErrBadSignature
	}
	return nil
}

// Handler serves signed objects. Mount it behind http.StripPrefix with the base path.
func (s *LocalStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, err := CleanKey(r.URL.Path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if err := s.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		http.ServeFile(w, r, filepath.Join(s.dir, filepath.FromSlash(key)))
	})
}

func (s *LocalStore) signature(key, expires string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
