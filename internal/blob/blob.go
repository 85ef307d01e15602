// Package blob stores lead photos in an external object storage service.
//
// The client speaks the storage service's HTTP object API: uploads go to
// /storage/v1/object/<bucket>/<path> and the returned reference is the
// public URL under /storage/v1/object/public/<bucket>/<path>.
package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Client is the object storage abstraction used for lead photos.
type Client interface {
	// Upload stores data under path in the configured bucket and returns
	// the public URL of the stored object.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)

	// Download fetches an object by its public URL.
	Download(ctx context.Context, url string) ([]byte, error)
}

// DefaultBucket is the bucket lead photos are stored in when none is
// configured.
const DefaultBucket = "leads"

// Opts holds configuration options for the storage client.
type Opts struct {
	BaseURL string // storage service base URL
	APIKey  string // service role key sent as bearer token
	Bucket  string
	HTTP    *http.Client
}

// Option defines a configuration option for the storage client.
type Option func(*Opts)

// WithBaseURL sets the storage service base URL.
func WithBaseURL(url string) Option {
	return func(o *Opts) {
		o.BaseURL = strings.TrimRight(url, "/")
	}
}

// WithAPIKey sets the storage service API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithBucket sets the bucket objects are stored in.
func WithBucket(bucket string) Option {
	return func(o *Opts) {
		o.Bucket = bucket
	}
}

// WithHTTPClient overrides the HTTP client, used in tests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) {
		o.HTTP = c
	}
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	baseURL string
	apiKey  string
	bucket  string
	http    *http.Client
}

// NewClient creates a new storage client, applying any provided options.
func NewClient(opts ...Option) (*HTTPClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Blob NewClient options set", "baseURL_set", cfg.BaseURL != "", "apiKey_set", cfg.APIKey != "", "bucket", cfg.Bucket)

	if cfg.BaseURL == "" {
		slog.Error("Blob client base URL not set")
		return nil, fmt.Errorf("storage base URL not set")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultBucket
		slog.Debug("No storage bucket provided, using default", "bucket", cfg.Bucket)
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		bucket:  cfg.Bucket,
		http:    cfg.HTTP,
	}, nil
}

// PhotoPath builds the storage path for a lead photo. The random suffix keeps
// re-uploads for the same lead from colliding.
func PhotoPath(leadID int64, ext string) string {
	if ext == "" {
		ext = "jpg"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("photos/lead_%d_%s.%s", leadID, suffix, ext)
}

// ExtForContentType maps an image content type to a file extension,
// defaulting to jpg.
func ExtForContentType(ct string) string {
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "image/png":
		return "png"
	case "image/gif":
		return "gif"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}

// Upload stores data under path in the bucket and returns the public URL.
func (c *HTTPClient) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("upload data cannot be empty")
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, path)
	slog.Debug("Blob upload starting", "path", path, "size", len(data))

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("storage returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("storage returned %d: %s", resp.StatusCode, string(body)))
		}
		return nil
	}
	if err := retryHTTP(ctx, "upload", op); err != nil {
		slog.Error("Blob upload failed", "error", err, "path", path)
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	publicURL := fmt.Sprintf("%s/storage/v1/object/public/%s/%s", c.baseURL, c.bucket, path)
	slog.Debug("Blob upload succeeded", "path", path, "url", publicURL)
	return publicURL, nil
}

// Download fetches an object by its public URL.
func (c *HTTPClient) Download(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("download URL cannot be empty")
	}
	slog.Debug("Blob download starting", "url", url)

	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("storage returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("storage returned %d", resp.StatusCode))
		}
		data, err = io.ReadAll(resp.Body)
		return err
	}
	if err := retryHTTP(ctx, "download", op); err != nil {
		slog.Error("Blob download failed", "error", err, "url", url)
		return nil, fmt.Errorf("failed to download object: %w", err)
	}
	slog.Debug("Blob download succeeded", "url", url, "size", len(data))
	return data, nil
}

// retryHTTP runs op with bounded exponential backoff, 3 attempts total.
func retryHTTP(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err != nil {
			if _, permanent := err.(*backoff.PermanentError); !permanent {
				slog.Warn("Blob request failed, will retry", "op", name, "attempt", attempt, "error", err)
			}
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithMaxRetries(backoff.WithContext(b, ctx), 2))
}
