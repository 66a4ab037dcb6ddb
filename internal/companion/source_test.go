package companion

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/retry"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const stateUpdate = `42/api/v1/realtime,["state-update",{"player":{"trackState":1,"videoProgress":12,"volume":50},"video":{"videoId":"abc","title":"Song","author":"Band","durationSeconds":200}}]`

// fakeCompanion speaks just enough engine.io v4 / socket.io v5 to drive Source
type fakeCompanion struct {
	t         *testing.T
	validTok  string
	mu        sync.Mutex
	tokens    []string
	codeCalls atomic.Int32
	pongs     atomic.Int32
	// busy rejects this many namespace connects with a non-auth error
	busy atomic.Int32
	// frames sent after a successful namespace connect
	frames []string
}

func (f *fakeCompanion) handler() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/requestcode", func(w http.ResponseWriter, _ *http.Request) {
		f.codeCalls.Add(1)
		_, _ = w.Write([]byte(`{"code":"42"}`))
	})
	mux.HandleFunc("POST /api/v1/auth/request", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"token":"` + f.validTok + `"}`))
	})
	mux.HandleFunc("/socket.io/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "4", r.URL.Query().Get("EIO"))
		assert.Equal(f.t, "websocket", r.URL.Query().Get("transport"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"x","pingInterval":25000,"pingTimeout":20000}`))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := string(data)
		assert.True(f.t, strings.HasPrefix(msg, "40/api/v1/realtime,"), msg)
		token := strings.TrimSuffix(strings.TrimPrefix(msg, `40/api/v1/realtime,{"token":"`), `"}`)

		f.mu.Lock()
		f.tokens = append(f.tokens, token)
		f.mu.Unlock()

		if f.busy.Load() > 0 {
			f.busy.Add(-1)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`44/api/v1/realtime,{"message":"Server busy"}`))
			return
		}
		if token != f.validTok {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`44/api/v1/realtime,{"message":"Authentication failed"}`))
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`40/api/v1/realtime,{"sid":"y"}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("2"))
		for _, frame := range f.frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(frame))
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(data) == "3" {
				f.pongs.Add(1)
			}
		}
	})
	return mux
}

func (f *fakeCompanion) seenTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func newTestSource(t *testing.T, baseURL string, store *TokenStore) *Source {
	t.Helper()
	src, err := NewSource(zap.NewNop(), baseURL, store, retry.Policy{
		MaxAttempts: 5,
		Backoff:     retry.Fixed(10 * time.Millisecond),
	})
	require.NoError(t, err)
	return src
}

func runSource(t *testing.T, src *Source) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Start(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, src.Stop(ctx))
		<-errCh
	})
}

func nextSnapshot(t *testing.T, src *Source) domain.PlayerSnapshot {
	t.Helper()
	select {
	case snap := <-src.Snapshots():
		return snap
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a snapshot")
		return domain.PlayerSnapshot{}
	}
}

func TestSource_StoredTokenStreamsSnapshots(t *testing.T) {
	fake := &fakeCompanion{t: t, validTok: "good", frames: []string{
		`42/other,["state-update",{}]`,
		`42/api/v1/realtime,["volume-changed",{}]`,
		`42/api/v1/realtime,not-json`,
		stateUpdate,
	}}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	store := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save(context.Background(), "good"))

	src := newTestSource(t, ts.URL, store)
	runSource(t, src)

	snap := nextSnapshot(t, src)
	require.NotNil(t, snap.Track)
	assert.Equal(t, "abc", snap.Track.VideoID)
	assert.Equal(t, "Song", snap.Track.Title)
	assert.True(t, snap.Playing)
	require.NotNil(t, snap.Time)
	assert.Equal(t, 200000.0, snap.Time.Total)
	assert.Equal(t, 12000.0, snap.Time.Current)

	assert.Equal(t, int32(0), fake.codeCalls.Load(), "stored token skips the handshake")
	assert.Eventually(t, func() bool { return fake.pongs.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSource_RejectedTokenReauthenticates(t *testing.T) {
	fake := &fakeCompanion{t: t, validTok: "fresh", frames: []string{stateUpdate}}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	store := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save(context.Background(), "stale"))

	src := newTestSource(t, ts.URL, store)
	runSource(t, src)

	nextSnapshot(t, src)

	assert.Equal(t, []string{"stale", "fresh"}, fake.seenTokens())
	assert.Equal(t, int32(1), fake.codeCalls.Load())

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved)
}

func TestSource_ConnectErrorKeepsToken(t *testing.T) {
	fake := &fakeCompanion{t: t, validTok: "good", frames: []string{stateUpdate}}
	fake.busy.Store(1)
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	store := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save(context.Background(), "good"))

	src := newTestSource(t, ts.URL, store)
	runSource(t, src)

	nextSnapshot(t, src)

	assert.Equal(t, []string{"good", "good"}, fake.seenTokens())
	assert.Equal(t, int32(0), fake.codeCalls.Load(), "a busy server is not an auth failure")

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "good", saved)
}

func TestPacket_ConnectError(t *testing.T) {
	tests := []struct {
		payload string
		auth    bool
	}{
		{payload: `{"message":"Authentication failed"}`, auth: true},
		{payload: `{"message":"Authentication error"}`, auth: true},
		{payload: `{"message":"Server busy"}`},
		{payload: `{}`},
		{payload: `not-json`},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			err := packet{payload: []byte(tt.payload)}.connectError()
			require.Error(t, err)
			assert.Equal(t, tt.auth, errors.Is(err, ErrUnauthorized))
		})
	}
}

func TestSource_DisabledCompanionIsPermanent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/requestcode", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"statusCode":403}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	src := newTestSource(t, ts.URL, NewTokenStore(filepath.Join(t.TempDir(), "token")))

	err := src.Start(context.Background())
	assert.ErrorIs(t, err, ErrCompanionDisabled)
	assert.NoError(t, src.Stop(context.Background()))

	_, open := <-src.Snapshots()
	assert.False(t, open)
}

func TestSource_GivesUpAfterMaxAttempts(t *testing.T) {
	// Nothing listens here
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	store := NewTokenStore(filepath.Join(t.TempDir(), "token"))
	require.NoError(t, store.Save(context.Background(), "good"))

	src, err := NewSource(zap.NewNop(), url, store, retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Fixed(0),
		Sleep:       retry.NoSleep,
	})
	require.NoError(t, err)

	err = src.Start(context.Background())
	assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
}

func TestSource_StopBeforeStart(t *testing.T) {
	src := newTestSource(t, "http://127.0.0.1:1", NewTokenStore(filepath.Join(t.TempDir(), "token")))
	require.NoError(t, src.Stop(context.Background()))
	assert.NoError(t, src.Start(context.Background()))
}

func TestNewSource_BadURL(t *testing.T) {
	_, err := NewSource(zap.NewNop(), "ftp://host", NewTokenStore(filepath.Join(t.TempDir(), "token")), retry.Policy{})
	assert.Error(t, err)
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		in        string
		engine    byte
		socket    byte
		namespace string
		payload   string
	}{
		{in: "2", engine: '2'},
		{in: `0{"sid":"a"}`, engine: '0', payload: `{"sid":"a"}`},
		{in: `40/api/v1/realtime,{"sid":"b"}`, engine: '4', socket: '0', namespace: "/api/v1/realtime", payload: `{"sid":"b"}`},
		{in: `42["ev",1]`, engine: '4', socket: '2', namespace: "/", payload: `["ev",1]`},
		{in: `42/ns,17["ev"]`, engine: '4', socket: '2', namespace: "/ns", payload: `["ev"]`},
		{in: `41/ns`, engine: '4', socket: '1', namespace: "/ns"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := decodePacket([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.engine, p.engine)
			assert.Equal(t, tt.socket, p.socket)
			assert.Equal(t, tt.namespace, p.namespace)
			assert.Equal(t, tt.payload, string(p.payload))
		})
	}

	_, err := decodePacket(nil)
	assert.Error(t, err)
	_, err = decodePacket([]byte("4"))
	assert.Error(t, err)
}

func TestRealtimeURL(t *testing.T) {
	got, err := realtimeURL("http://127.0.0.1:9863/")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9863/socket.io/?EIO=4&transport=websocket", got)

	got, err = realtimeURL("https://host")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "wss://host/socket.io/"))
}
