package companion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/retry"
	"github.com/genricoloni/nowplaying/internal/snapshot"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultMaxAttempts = 100
	handshakeTimeout   = 10 * time.Second
)

// DefaultPolicy reconnects after min(attempt*1s, 1s), up to 100 times in a row
func DefaultPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     retry.Linear(time.Second, time.Second),
	}
}

// Source emits snapshots pushed by the companion's realtime feed
type Source struct {
	logger  *zap.Logger
	auth    *Authenticator
	store   *TokenStore
	baseURL string
	wsURL   string
	dialer  *websocket.Dialer
	policy  retry.Policy
	events  chan domain.PlayerSnapshot

	mu              sync.Mutex
	running         bool
	stopped         bool
	cancel          context.CancelFunc
	token           string
	lastDropWarning time.Time
	wg              sync.WaitGroup
	closeOnce       sync.Once
}

// NewSource creates a companion source. A zero policy uses DefaultPolicy.
func NewSource(logger *zap.Logger, baseURL string, store *TokenStore, policy retry.Policy) (*Source, error) {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	wsURL, err := realtimeURL(baseURL)
	if err != nil {
		return nil, err
	}
	if policy.Backoff == nil {
		policy = DefaultPolicy()
	}

	s := &Source{
		logger:  logger,
		auth:    NewAuthenticator(logger, baseURL),
		store:   store,
		baseURL: baseURL,
		wsURL:   wsURL,
		dialer:  websocket.DefaultDialer,
		policy:  policy,
		events:  make(chan domain.PlayerSnapshot, 10),
	}
	if s.policy.Notify == nil {
		s.policy.Notify = func(attempt int, delay time.Duration, err error) {
			logger.Warn("Companion connection failed, reconnecting",
				zap.Int("attempt", attempt),
				zap.Int("maxAttempts", s.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return s, nil
}

// Snapshots returns a read-only channel of normalized snapshots
func (s *Source) Snapshots() <-chan domain.PlayerSnapshot {
	return s.events
}

// Start connects and keeps the feed alive. It blocks until ctx is
// cancelled, Stop is called, or the retry policy gives up.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	defer cancel()

	s.logger.Info("Companion source started", zap.String("url", s.baseURL))

	err := s.policy.Run(runCtx, s.dial)
	if runCtx.Err() != nil {
		s.logger.Info("Companion source stopped")
		return runCtx.Err()
	}
	if errors.Is(err, ErrCompanionDisabled) {
		s.logger.Error("Companion server is disabled. Enable it in Settings > Integrations, allow browser communication and companion authorization, then restart")
	} else {
		s.logger.Error("Companion source gave up", zap.Error(err))
	}
	return err
}

// Stop cancels the feed and closes the snapshot channel
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	// Wait for the producer before closing the channel
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("companion source stop: %w", ctx.Err())
	}

	s.closeOnce.Do(func() { close(s.events) })
	s.logger.Info("Companion source shutdown complete")
	return nil
}

func (s *Source) dial(ctx context.Context) (func(context.Context) error, error) {
	token, err := s.ensureToken(ctx)
	if err != nil {
		if errors.Is(err, ErrCompanionDisabled) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial realtime socket: %w", err)
	}

	if err := s.handshake(conn, token); err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrUnauthorized) {
			s.forgetToken(ctx)
		}
		return nil, err
	}

	s.logger.Info("Realtime socket connected", zap.String("namespace", Namespace))
	return func(ctx context.Context) error {
		return s.serve(ctx, conn)
	}, nil
}

// ensureToken returns the cached token, the stored one, or runs the handshake
func (s *Source) ensureToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}

	token, err := s.store.Load(ctx)
	if err != nil {
		return "", err
	}
	if token == "" {
		s.logger.Info("No stored token, starting authorization")
		if token, err = s.auth.Authenticate(ctx); err != nil {
			return "", err
		}
		if err := s.store.Save(ctx, token); err != nil {
			// Keep going with the in-memory token
			s.logger.Warn("Failed to save token", zap.String("path", s.store.Path()), zap.Error(err))
		}
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return token, nil
}

func (s *Source) forgetToken(ctx context.Context) {
	s.logger.Warn("Authentication error, re-authenticating")
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		s.logger.Warn("Failed to clear token", zap.Error(err))
	}
}

// handshake waits for the engine.io open packet, then joins the namespace
func (s *Source) handshake(conn *websocket.Conn, token string) error {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	p, err := s.read(conn)
	if err != nil {
		return err
	}
	if p.engine != eioOpen {
		return fmt.Errorf("expected open packet, got %q", p.engine)
	}

	connect, err := connectPacket(token)
	if err != nil {
		return fmt.Errorf("encode connect packet: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, connect); err != nil {
		return fmt.Errorf("send connect packet: %w", err)
	}

	for {
		p, err := s.read(conn)
		if err != nil {
			return err
		}
		switch {
		case p.engine == eioPing:
			if err := s.pong(conn); err != nil {
				return err
			}
		case p.engine == eioClose:
			return errors.New("realtime socket closed during handshake")
		case p.engine != eioMessage || p.namespace != Namespace:
			continue
		case p.socket == sioConnect:
			return nil
		case p.socket == sioConnectError:
			return p.connectError()
		}
	}
}

func (s *Source) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		p, err := s.read(conn)
		if err != nil {
			return err
		}

		switch p.engine {
		case eioPing:
			if err := s.pong(conn); err != nil {
				return err
			}
			continue
		case eioClose:
			return errors.New("realtime socket closed by server")
		case eioMessage:
		default:
			continue
		}
		if p.namespace != Namespace {
			continue
		}

		switch p.socket {
		case sioEvent:
			s.handleEvent(p)
		case sioDisconnect:
			return errors.New("realtime namespace disconnected by server")
		case sioConnectError:
			err := p.connectError()
			if errors.Is(err, ErrUnauthorized) {
				s.forgetToken(ctx)
			}
			return err
		}
	}
}

func (s *Source) read(conn *websocket.Conn) (packet, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return packet{}, fmt.Errorf("realtime socket read: %w", err)
	}
	return decodePacket(data)
}

func (s *Source) pong(conn *websocket.Conn) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
		return fmt.Errorf("realtime socket pong: %w", err)
	}
	return nil
}

func (s *Source) handleEvent(p packet) {
	name, arg, err := p.event()
	if err != nil {
		s.logger.Debug("Dropping malformed event", zap.Error(err))
		return
	}
	if name != StateUpdate || arg == nil {
		return
	}

	snap, err := snapshot.ParseCompanion(arg)
	if err != nil {
		s.logger.Debug("Dropping malformed state update", zap.Error(err))
		return
	}

	// Non-blocking send: a newer state supersedes a dropped one
	select {
	case s.events <- snap:
	default:
		s.logChannelFullWarning()
	}
}

// logChannelFullWarning logs at most one warning every 5 seconds
func (s *Source) logChannelFullWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(s.lastDropWarning) >= warningInterval {
		s.logger.Warn("Snapshot channel full, dropping state update")
		s.lastDropWarning = now
	}
}
