package assets

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/cdn"
)

// ErrNotFound is returned by stores for missing assets.
var ErrNotFound = errors.New("asset not found")

// Store fetches asset text by relative path.
type Store interface {
	Get(ctx context.Context, rel string) (string, error)
}

// S3Options holds credentials for s3:// base URLs.
type S3Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// Open returns the store for baseURL: s3://bucket/prefix for object storage,
// anything else is fetched over HTTP(S).
func Open(ctx context.Context, baseURL string, s3opts S3Options, timeout time.Duration) (Store, error) {
	if baseURL == "" {
		return nil, errors.New("asset base url is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse asset base url: %w", err)
	}

	switch u.Scheme {
	case "s3":
		return NewS3Store(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), s3opts)
	case "http", "https":
		return NewHTTPStore(baseURL, cdn.New(cdn.Config{Timeout: timeout})), nil
	default:
		return nil, fmt.Errorf("unsupported asset base url scheme %q", u.Scheme)
	}
}

// Fetcher downloads a URL; *cdn.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPStore serves assets relative to an HTTP base URL.
type HTTPStore struct {
	base    string
	fetcher Fetcher
}

// NewHTTPStore creates a store rooted at base.
func NewHTTPStore(base string, fetcher Fetcher) *HTTPStore {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &HTTPStore{base: base, fetcher: fetcher}
}

// Get fetches base+rel.
func (s *HTTPStore) Get(ctx context.Context, rel string) (string, error) {
	body, err := s.fetcher.Fetch(ctx, s.base+strings.TrimPrefix(rel, "/"))
	if err != nil {
		if errors.Is(err, cdn.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", rel, ErrNotFound)
		}
		return "", fmt.Errorf("fetch asset %s: %w", rel, err)
	}
	return string(body), nil
}
