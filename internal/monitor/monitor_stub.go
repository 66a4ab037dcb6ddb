//go:build !linux

package monitor

import (
	"context"
	"errors"

	"github.com/genricoloni/nowplaying/internal/domain"
	"go.uber.org/zap"
)

// ErrUnsupported is returned by Start outside Linux
var ErrUnsupported = errors.New("MPRIS monitoring is only supported on Linux systems")

// MprisMonitor stub for non-Linux platforms
type MprisMonitor struct {
	logger *zap.Logger
	events chan domain.PlayerSnapshot
}

// NewMprisMonitor creates a stub monitor that fails to start on non-Linux platforms
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	events := make(chan domain.PlayerSnapshot)
	close(events)
	return &MprisMonitor{logger: logger, events: events}
}

// Start returns ErrUnsupported
func (m *MprisMonitor) Start(ctx context.Context) error {
	return ErrUnsupported
}

// Snapshots returns a closed channel since monitoring is not available
func (m *MprisMonitor) Snapshots() <-chan domain.PlayerSnapshot {
	return m.events
}

// Stop is a no-op on non-Linux platforms
func (m *MprisMonitor) Stop(ctx context.Context) error {
	return nil
}
