package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestHTTPFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name           string
		contentType    string
		responseBody   []byte
		statusCode     int
		ctxFunc        func() (context.Context, context.CancelFunc)
		expectedError  string
		expectedLength int
	}{
		{
			name:           "Success - Valid Image",
			contentType:    "image/jpeg",
			responseBody:   []byte("fake-image-data"),
			statusCode:     http.StatusOK,
			expectedError:  "",
			expectedLength: 15,
		},
		{
			name:          "Error - 404 Not Found",
			contentType:   "image/jpeg",
			statusCode:    http.StatusNotFound,
			expectedError: "unexpected status code: 404",
		},
		{
			name:          "Error - Invalid Content Type",
			contentType:   "text/plain",
			responseBody:  []byte("not-an-image"),
			statusCode:    http.StatusOK,
			expectedError: "url is not an image",
		},
		{
			name:        "Error - Response Too Large",
			contentType: "image/png",
			responseBody:   []byte(strings.Repeat("a", 11*1024*1024)),
			statusCode:     http.StatusOK,
			expectedError:  "", // truncated, not an error
			expectedLength: 10 * 1024 * 1024,
		},
		{
			name: "Error - Context Cancelled",
			ctxFunc: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel() // Cancel immediately
				return ctx, cancel
			},
			expectedError: "context canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup mock server
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write(tt.responseBody)
			}))
			defer server.Close()

			// Setup context
			var ctx context.Context
			var cancel context.CancelFunc
			if tt.ctxFunc != nil {
				ctx, cancel = tt.ctxFunc()
			} else {
				ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
			}
			defer cancel()

			fetcher := NewHTTPFetcher(zap.NewNop())
			data, err := fetcher.Fetch(ctx, server.URL)

			// Verify error
			if tt.expectedError != "" {
				if err == nil {
					t.Fatalf("expected error containing '%s', got nil", tt.expectedError)
				}
				if !strings.Contains(err.Error(), tt.expectedError) {
					t.Errorf("expected error '%s' to contain '%s'", err.Error(), tt.expectedError)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			// Verify data length (for OOM limit test)
			if len(data) != tt.expectedLength {
				t.Errorf("expected data length %d, got %d", tt.expectedLength, len(data))
			}
		})
	}
}

func TestHTTPFetcher_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cover.jpg")
	if err := os.WriteFile(path, []byte("local-image"), 0644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	tests := []struct {
		name          string
		url           string
		expectedError string
	}{
		{name: "File URL", url: "file://" + path},
		{name: "Absolute path", url: path},
		{name: "Missing file", url: "file://" + filepath.Join(dir, "missing.jpg"), expectedError: "failed to open artwork"},
		{name: "Unsupported scheme", url: "ftp://example.com/a.jpg", expectedError: "unsupported artwork url"},
	}

	fetcher := NewHTTPFetcher(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := fetcher.Fetch(context.Background(), tt.url)
			if tt.expectedError != "" {
				if err == nil || !strings.Contains(err.Error(), tt.expectedError) {
					t.Fatalf("expected error containing '%s', got %v", tt.expectedError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != "local-image" {
				t.Errorf("expected file contents, got %q", data)
			}
		})
	}
}
