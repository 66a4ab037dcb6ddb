// Package companion is the session provider for the desktop music
// companion server: auth handshake, stored credential, realtime socket.
package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultURL = "http://127.0.0.1:9863"

	AppID      = "ytmd-obs-widget"
	AppName    = "YT Music OBS Widget"
	AppVersion = "1.0.0"

	// The token request blocks until the user answers the consent dialog
	authTimeout = 60 * time.Second
	maxBody     = 64 << 10
)

var (
	// ErrCompanionDisabled means the companion server refuses new apps
	ErrCompanionDisabled = errors.New("companion server disabled or authorization off")
	// ErrUnauthorized means the stored token was rejected
	ErrUnauthorized = errors.New("companion rejected the token")
)

// Authenticator runs the two-step code/token handshake
type Authenticator struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

// NewAuthenticator creates an authenticator for the companion at baseURL
func NewAuthenticator(logger *zap.Logger, baseURL string) *Authenticator {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Authenticator{
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: authTimeout},
	}
}

type codeResponse struct {
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// Authenticate requests a code and exchanges it for a token. The user has
// to approve the request in the companion app.
func (a *Authenticator) Authenticate(ctx context.Context) (string, error) {
	code, err := a.RequestCode(ctx)
	if err != nil {
		return "", err
	}

	a.logger.Info("Authorization requested, approve it in the companion app", zap.String("code", code))

	return a.RequestToken(ctx, code)
}

// RequestCode starts the handshake
func (a *Authenticator) RequestCode(ctx context.Context) (string, error) {
	var resp codeResponse
	status, err := a.post(ctx, "/api/v1/auth/requestcode", map[string]string{
		"appId":      AppID,
		"appName":    AppName,
		"appVersion": AppVersion,
	}, &resp)
	if status == http.StatusForbidden || resp.StatusCode == http.StatusForbidden {
		return "", ErrCompanionDisabled
	}
	if err != nil {
		return "", fmt.Errorf("request code: %w", err)
	}
	if resp.Code == "" {
		return "", fmt.Errorf("request code: empty code (%s)", resp.Message)
	}
	return resp.Code, nil
}

// RequestToken exchanges an approved code for a token
func (a *Authenticator) RequestToken(ctx context.Context, code string) (string, error) {
	var resp tokenResponse
	if _, err := a.post(ctx, "/api/v1/auth/request", map[string]string{
		"appId": AppID,
		"code":  code,
	}, &resp); err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("request token: empty token (%s)", resp.Message)
	}
	return resp.Token, nil
}

func (a *Authenticator) post(ctx context.Context, path string, payload any, out any) (int, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	// Error bodies carry statusCode/message too, decode them regardless
	decodeErr := json.Unmarshal(body, out)
	if resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if decodeErr != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", decodeErr)
	}
	return resp.StatusCode, nil
}
