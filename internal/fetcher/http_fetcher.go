package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const _maxImageSize = 10 * 1024 * 1024 // 10 MB

// HTTPFetcher loads cover art from HTTP(S) URLs, file:// URLs or local paths
type HTTPFetcher struct {
	logger    *zap.Logger
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates a new HTTP-based fetcher instance
func NewHTTPFetcher(logger *zap.Logger) *HTTPFetcher {
	return &HTTPFetcher{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		userAgent: "nowplaying/1.0",
	}
}

// Fetch returns the image bytes behind rawURL
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return f.fetchHTTP(ctx, rawURL)
	case strings.HasPrefix(rawURL, "file://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid file url: %w", err)
		}
		return f.readFile(ctx, u.Path)
	case strings.HasPrefix(rawURL, "/"):
		return f.readFile(ctx, rawURL)
	}
	return nil, fmt.Errorf("unsupported artwork url: %q", rawURL)
}

func (f *HTTPFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("url is not an image: %s", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	f.logger.Debug("Image fetched successfully", zap.Int("bytes", len(data)), zap.String("url", rawURL))
	return data, nil
}

func (f *HTTPFetcher) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open artwork: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, _maxImageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read artwork: %w", err)
	}

	f.logger.Debug("Image read from disk", zap.Int("bytes", len(data)), zap.String("path", path))
	return data, nil
}
