// Package cdn is the HTTP client for the npm registry CDN: version
// resolution and flat listings from the data API, raw files from the file
// CDN.
package cdn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/metrics"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/models"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/pkgpath"
	"github.com/Ka0gaMi/vscode-typescript-web/internal/retry"
)

// Default endpoints.
const (
	DefaultDataURL = "https://data.jsdelivr.com"
	DefaultFileURL = "https://cdn.jsdelivr.net"
)

// maxBody bounds a single downloaded document.
const maxBody = 64 << 20

var (
	// ErrNotFound is returned when the CDN has no such package, version or file.
	ErrNotFound = errors.New("not found")
	// ErrTooLarge is returned for documents over the size limit.
	ErrTooLarge = errors.New("response too large")
)

// Config holds client configuration.
type Config struct {
	DataURL     string
	FileURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// Client fetches package metadata and files from the CDN.
type Client struct {
	dataURL     string
	fileURL     string
	httpClient  *http.Client
	retryConfig retry.Config
	maxBody     int64
	log         *zap.Logger
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.DataURL == "" {
		cfg.DataURL = DefaultDataURL
	}
	if cfg.FileURL == "" {
		cfg.FileURL = DefaultFileURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		dataURL: strings.TrimSuffix(cfg.DataURL, "/"),
		fileURL: strings.TrimSuffix(cfg.FileURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
		maxBody:     maxBody,
		log:         logging.Named("cdn"),
	}
}

// ResolveVersion resolves a version range, tag or "" (latest) to a concrete
// version. Exact versions are returned without a request.
func (c *Client) ResolveVersion(ctx context.Context, name, rng string) (string, error) {
	if _, err := semver.Parse(rng); err == nil {
		return rng, nil
	}

	u := c.dataURL + "/v1/package/resolve/npm/" + escapePackage(name)
	if rng != "" {
		u += "@" + url.PathEscape(rng)
	}
	body, err := c.get(ctx, "resolve", u)
	if err != nil {
		return "", fmt.Errorf("resolve %s@%s: %w", name, rng, err)
	}

	version := gjson.GetBytes(body, "version")
	if !version.Exists() || version.Type == gjson.Null || version.String() == "" {
		return "", fmt.Errorf("resolve %s@%s: %w", name, rng, ErrNotFound)
	}
	return version.String(), nil
}

// FlatListing returns the flat file listing for a package specifier
// ("name" or "name@range").
func (c *Client) FlatListing(ctx context.Context, spec string) (*models.Listing, error) {
	comp := pkgpath.Resolve(spec)
	if !comp.HasPackage {
		return nil, fmt.Errorf("flat listing %q: %w", spec, ErrNotFound)
	}

	version, err := c.ResolveVersion(ctx, comp.PackageName, comp.Version)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/v1/package/npm/%s@%s/flat",
		c.dataURL, escapePackage(comp.PackageName), url.PathEscape(version))
	body, err := c.get(ctx, "flat", u)
	if err != nil {
		return nil, fmt.Errorf("flat listing %s@%s: %w", comp.PackageName, version, err)
	}

	var listing models.Listing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode flat listing %s@%s: %w", comp.PackageName, version, err)
	}
	c.log.Debug("fetched flat listing",
		zap.String("package", comp.PackageName),
		zap.String("version", version),
		zap.Int("files", len(listing.Files)))
	return &listing, nil
}

// FileText fetches a file by registry path, e.g. "lodash@4.17.21/fp.js".
func (c *Client) FileText(ctx context.Context, path string) (string, error) {
	body, err := c.get(ctx, "file", c.fileURL+"/npm/"+strings.TrimPrefix(path, "/"))
	if err != nil {
		return "", fmt.Errorf("file %s: %w", path, err)
	}
	return string(body), nil
}

// Fetch downloads an arbitrary URL with the client's retry and decoding.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.get(ctx, "asset", rawURL)
}

func (c *Client) get(ctx context.Context, endpoint, u string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept-Encoding", "gzip")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.RecordCDNRequest(endpoint, 0, 0)
			return nil, retry.Retryable(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			metrics.RecordCDNRequest(endpoint, resp.StatusCode, 0)
			return nil, ErrNotFound
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			metrics.RecordCDNRequest(endpoint, resp.StatusCode, 0)
			return nil, retry.Retryable(fmt.Errorf("server error: %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			metrics.RecordCDNRequest(endpoint, resp.StatusCode, 0)
			return nil, fmt.Errorf("server returned %d", resp.StatusCode)
		}

		var reader io.Reader = resp.Body
		if resp.Header.Get("Content-Encoding") == "gzip" {
			gr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, retry.Retryable(fmt.Errorf("gzip: %w", err))
			}
			defer gr.Close()
			reader = gr
		}

		body, err := io.ReadAll(io.LimitReader(reader, c.maxBody+1))
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("read body: %w", err))
		}
		if int64(len(body)) > c.maxBody {
			metrics.RecordCDNRequest(endpoint, resp.StatusCode, int64(len(body)))
			return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, c.maxBody)
		}
		metrics.RecordCDNRequest(endpoint, resp.StatusCode, int64(len(body)))
		return body, nil
	})
}

// escapePackage escapes a package name for a URL path, keeping the scope
// separator.
func escapePackage(name string) string {
	if scope, rest, ok := strings.Cut(name, "/"); ok {
		return url.PathEscape(scope) + "/" + url.PathEscape(rest)
	}
	return url.PathEscape(name)
}
