// Package waveform mirrors bar levels pushed by the audio plugin's
// websocket feed onto the overlay.
package waveform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/retry"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultURL            = "ws://127.0.0.1:9450"
	DefaultBars           = 12
	DefaultReconnectDelay = 3 * time.Second

	levelFloor = 0.3
	levelRange = 0.7
)

// Bridge applies pushed amplitude values to a fixed-size bar array
type Bridge struct {
	logger    *zap.Logger
	presenter domain.Presenter
	url       string
	dialer    *websocket.Dialer
	policy    retry.Policy

	mu     sync.Mutex
	levels []float64
}

// NewBridge creates a waveform bridge. A zero policy reconnects forever
// after DefaultReconnectDelay.
func NewBridge(logger *zap.Logger, presenter domain.Presenter, url string, bars int, policy retry.Policy) *Bridge {
	if url == "" {
		url = DefaultURL
	}
	if bars <= 0 {
		bars = DefaultBars
	}
	if policy.Backoff == nil {
		policy.Backoff = retry.Fixed(DefaultReconnectDelay)
	}
	levels := make([]float64, bars)
	for i := range levels {
		levels[i] = levelFloor
	}

	b := &Bridge{
		logger:    logger,
		presenter: presenter,
		url:       url,
		dialer:    websocket.DefaultDialer,
		policy:    policy,
		levels:    levels,
	}
	if b.policy.Notify == nil {
		b.policy.Notify = func(attempt int, delay time.Duration, err error) {
			logger.Debug("Waveform feed unavailable, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return b
}

// Run keeps the feed connected until ctx is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("Waveform bridge started", zap.String("url", b.url))
	err := b.policy.Run(ctx, b.dial)
	b.logger.Info("Waveform bridge stopped")
	return err
}

func (b *Bridge) dial(ctx context.Context) (func(context.Context) error, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial waveform feed: %w", err)
	}

	b.logger.Info("Waveform feed connected", zap.String("url", b.url))
	b.presenter.SetFlag(domain.FlagExternalWaveform, true)

	return func(ctx context.Context) error {
		defer b.presenter.SetFlag(domain.FlagExternalWaveform, false)
		return b.serve(ctx, conn)
	}, nil
}

func (b *Bridge) serve(ctx context.Context, conn *websocket.Conn) error {
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
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("waveform feed closed: %w", err)
		}
		b.HandleMessage(data)
	}
}

// HandleMessage parses a {"bars": [...]} payload and applies it.
// Malformed payloads are dropped; it reports whether levels were applied.
func (b *Bridge) HandleMessage(data []byte) bool {
	var msg struct {
		Bars json.RawMessage `json:"bars"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Debug("Dropping malformed waveform message", zap.Error(err))
		return false
	}
	if !bytes.HasPrefix(bytes.TrimSpace(msg.Bars), []byte("[")) {
		return false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(msg.Bars, &raw); err != nil {
		return false
	}

	values := make([]float64, len(raw))
	for i, r := range raw {
		values[i] = coerce(r)
	}
	b.Apply(values)
	return true
}

// Apply maps values positionally onto the bar array and pushes the result
func (b *Bridge) Apply(values []float64) {
	b.mu.Lock()
	count := min(len(b.levels), len(values))
	for i := 0; i < count; i++ {
		b.levels[i] = Level(values[i])
	}
	levels := append([]float64(nil), b.levels...)
	b.mu.Unlock()

	b.presenter.SetWaveform(levels)
}

// Levels returns a copy of the current bar levels
func (b *Bridge) Levels() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.levels...)
}

// Level maps an amplitude to a displayed level; out-of-range and
// non-finite amplitudes are clamped to [0,1] first
func Level(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return levelFloor + levelRange*v
}

// coerce converts a JSON value the way a loose numeric cast would:
// numbers and numeric strings pass, booleans become 0/1, the rest is NaN
func coerce(raw json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return v
		}
		return math.NaN()
	}
	var flag bool
	if err := json.Unmarshal(raw, &flag); err == nil {
		if flag {
			return 1
		}
		return 0
	}
	return math.NaN()
}
