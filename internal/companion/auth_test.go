package companion

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuthenticator_Authenticate(t *testing.T) {
	var codeBody, tokenBody map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/requestcode", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&codeBody))
		_, _ = w.Write([]byte(`{"code":"1234"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/request", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tokenBody))
		_, _ = w.Write([]byte(`{"token":"secret"}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	auth := NewAuthenticator(zap.NewNop(), ts.URL+"/")
	token, err := auth.Authenticate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "secret", token)
	assert.Equal(t, map[string]string{
		"appId":      "ytmd-obs-widget",
		"appName":    "YT Music OBS Widget",
		"appVersion": "1.0.0",
	}, codeBody)
	assert.Equal(t, map[string]string{"appId": "ytmd-obs-widget", "code": "1234"}, tokenBody)
}

func TestAuthenticator_Errors(t *testing.T) {
	tests := []struct {
		name      string
		code      func(w http.ResponseWriter)
		token     func(w http.ResponseWriter)
		wantErr   error
		errSubstr string
	}{
		{
			name:    "Disabled in body",
			code:    func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"statusCode":403,"message":"disabled"}`)) },
			wantErr: ErrCompanionDisabled,
		},
		{
			name: "Disabled by status",
			code: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"statusCode":403}`))
			},
			wantErr: ErrCompanionDisabled,
		},
		{
			name:      "Empty code",
			code:      func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{}`)) },
			errSubstr: "empty code",
		},
		{
			name: "Token denied",
			code: func(w http.ResponseWriter) { _, _ = w.Write([]byte(`{"code":"1"}`)) },
			token: func(w http.ResponseWriter) {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"statusCode":401,"message":"denied"}`))
			},
			errSubstr: "unexpected status code: 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /api/v1/auth/requestcode", func(w http.ResponseWriter, _ *http.Request) { tt.code(w) })
			mux.HandleFunc("POST /api/v1/auth/request", func(w http.ResponseWriter, _ *http.Request) {
				if tt.token != nil {
					tt.token(w)
				}
			})
			ts := httptest.NewServer(mux)
			defer ts.Close()

			_, err := NewAuthenticator(zap.NewNop(), ts.URL).Authenticate(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.errSubstr != "" {
				assert.Contains(t, err.Error(), tt.errSubstr)
			}
		})
	}
}

func TestTokenStore(t *testing.T) {
	ctx := context.Background()
	store := NewTokenStore(filepath.Join(t.TempDir(), "nested", "token"))

	token, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token, "missing file means no token")

	require.NoError(t, store.Save(ctx, "abc"))
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	require.NoError(t, store.Save(ctx, "def"))
	token, _ = store.Load(ctx)
	assert.Equal(t, "def", token)

	require.NoError(t, store.Clear(ctx))
	require.NoError(t, store.Clear(ctx), "clearing twice is fine")
	token, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)
}
