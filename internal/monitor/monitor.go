//go:build linux

// Package monitor is the local session provider: it follows MPRIS players
// on the D-Bus session bus and emits their state as player snapshots.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/snapshot"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

const (
	mprisPrefix  = "org.mpris.MediaPlayer2."
	mprisPath    = "/org/mpris/MediaPlayer2"
	propMetadata = "org.mpris.MediaPlayer2.Player.Metadata"
	propStatus   = "org.mpris.MediaPlayer2.Player.PlaybackStatus"
	propPosition = "org.mpris.MediaPlayer2.Player.Position"

	// Players do not signal position changes, so the active one is polled
	pollInterval = time.Second
)

// MprisMonitor follows media playback via the D-Bus MPRIS interface
type MprisMonitor struct {
	logger          *zap.Logger
	events          chan domain.PlayerSnapshot
	mu              sync.RWMutex
	running         bool
	cancel          context.CancelFunc
	conn            DBusClient        // Interface for testability
	lastDropWarning time.Time         // Rate limiting for "channel full" warnings
	wg              sync.WaitGroup    // Tracks active producer goroutines
	playerNames     map[string]string // Maps unique bus names (:1.45) to well-known names (org.mpris.MediaPlayer2.spotify)
	active          string            // Bus name of the player that last reported
	closeOnce       sync.Once
}

// NewMprisMonitor creates a new MPRIS monitor instance
func NewMprisMonitor(logger *zap.Logger) *MprisMonitor {
	return &MprisMonitor{
		logger:      logger,
		events:      make(chan domain.PlayerSnapshot, 10),
		playerNames: make(map[string]string),
	}
}

// Start connects to the session bus and emits snapshots until ctx is
// cancelled or Stop is called
func (m *MprisMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true

	monitorCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor started")

	// Connect to Session Bus (this may block)
	conn, err := NewStdDBusClient()
	if err != nil {
		m.logger.Error("Failed to connect to session bus", zap.Error(err))
		m.mu.Lock()
		defer m.mu.Unlock()
		m.running = false
		m.cancel = nil
		return fmt.Errorf("session bus connection failed: %w", err)
	}

	// Stopped while connecting
	select {
	case <-monitorCtx.Done():
		if err := conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		return monitorCtx.Err()
	default:
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	if err := m.watch(monitorCtx); err != nil {
		return err
	}

	<-monitorCtx.Done()
	m.logger.Info("MPRIS monitor stopped")
	return monitorCtx.Err()
}

// watch scans existing players, subscribes to signals and starts the
// producer goroutines on the current connection
func (m *MprisMonitor) watch(ctx context.Context) error {
	m.wg.Add(1)
	func() {
		defer m.wg.Done()
		if err := m.detectExistingPlayers(); err != nil {
			m.logger.Warn("Failed to detect existing players", zap.Error(err))
		}
	}()

	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(mprisPath),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		m.logger.Error("Failed to add match signal", zap.Error(err))
		return fmt.Errorf("failed to add match signal: %w", err)
	}

	// Track players appearing and vanishing
	if err := m.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		m.logger.Warn("Failed to add NameOwnerChanged match signal", zap.Error(err))
	}

	m.wg.Add(2)
	go m.monitorSignals(ctx)
	go m.pollPosition(ctx)
	return nil
}

// Stop gracefully stops the monitor
func (m *MprisMonitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.running = false
	m.mu.Unlock()

	// Producers must be gone before the channel closes
	m.wg.Wait()
	m.closeOnce.Do(func() { close(m.events) })

	m.mu.Lock()
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.Warn("Failed to close D-Bus connection", zap.Error(err))
		}
		m.conn = nil
	}
	m.mu.Unlock()

	m.logger.Info("MPRIS monitor shutdown complete")
	return nil
}

// Snapshots returns a read-only channel of player snapshots
func (m *MprisMonitor) Snapshots() <-chan domain.PlayerSnapshot {
	return m.events
}

// detectExistingPlayers queries D-Bus for currently running MPRIS players
func (m *MprisMonitor) detectExistingPlayers() error {
	names, err := m.conn.ListNames()
	if err != nil {
		return fmt.Errorf("failed to list bus names: %w", err)
	}

	playerCount := 0
	for _, name := range names {
		if !strings.HasPrefix(name, mprisPrefix) {
			continue
		}
		playerCount++
		m.logger.Info("Detected MPRIS player", zap.String("name", name))

		if uniqueName, err := m.conn.GetNameOwner(name); err == nil {
			m.mu.Lock()
			m.playerNames[uniqueName] = name
			m.mu.Unlock()
		}

		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch initial state",
				zap.String("player", name),
				zap.Error(err))
		}
	}

	m.logger.Info("Player detection complete", zap.Int("count", playerCount))
	return nil
}

// fetchPlayerState reads metadata, status and position from a player and
// emits the resulting snapshot
func (m *MprisMonitor) fetchPlayerState(player string) error {
	variant, err := m.conn.GetProperty(player, mprisPath, propMetadata)
	if err != nil {
		return fmt.Errorf("failed to get metadata: %w", err)
	}

	// Some players return nil or unexpected types when idle
	metadata, ok := variant.Value().(map[string]dbus.Variant)
	if !ok {
		m.logger.Debug("Metadata variant is not a map, skipping", zap.String("player", player))
		return nil
	}

	statusVariant, err := m.conn.GetProperty(player, mprisPath, propStatus)
	if err != nil {
		return fmt.Errorf("failed to get playback status: %w", err)
	}
	status, ok := statusVariant.Value().(string)
	if !ok {
		return fmt.Errorf("invalid playback status format")
	}

	snap := snapshot.FromMPRIS(m.parseMetadata(metadata, status, m.position(player)))
	m.emit(player, snap)
	return nil
}

// position reads the playback position in microseconds; nil when the
// player does not expose it
func (m *MprisMonitor) position(player string) *int64 {
	variant, err := m.conn.GetProperty(player, mprisPath, propPosition)
	if err != nil {
		return nil
	}
	return asInt64(variant.Value())
}

// monitorSignals listens for D-Bus signals and processes them
func (m *MprisMonitor) monitorSignals(ctx context.Context) {
	defer m.wg.Done()

	signals := make(chan *dbus.Signal, 10)
	m.conn.Signal(signals)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-signals:
			if sig == nil {
				continue
			}
			if sig.Name == "org.freedesktop.DBus.NameOwnerChanged" {
				m.handleNameOwnerChanged(sig)
			} else {
				m.handleSignal(sig)
			}
		}
	}
}

// pollPosition refreshes the active player so progress keeps moving
func (m *MprisMonitor) pollPosition(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			active := m.active
			m.mu.RUnlock()
			if active == "" {
				continue
			}
			if err := m.fetchPlayerState(active); err != nil {
				m.logger.Debug("Failed to poll player", zap.String("player", active), zap.Error(err))
			}
		}
	}
}

// handleNameOwnerChanged processes NameOwnerChanged signals to track player lifecycle
func (m *MprisMonitor) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) < 3 {
		return
	}

	name, ok := sig.Body[0].(string)
	if !ok || !strings.HasPrefix(name, mprisPrefix) {
		return
	}

	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)

	switch {
	case newOwner != "" && oldOwner == "":
		m.mu.Lock()
		m.playerNames[newOwner] = name
		m.mu.Unlock()

		m.logger.Info("New MPRIS player detected",
			zap.String("player", name),
			zap.String("unique", newOwner))

		if err := m.fetchPlayerState(name); err != nil {
			m.logger.Warn("Failed to fetch state from new player",
				zap.String("player", name),
				zap.Error(err))
		}

	case newOwner == "" && oldOwner != "":
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		wasActive := m.active == oldOwner || m.active == name
		if wasActive {
			m.active = ""
		}
		m.mu.Unlock()

		m.logger.Info("MPRIS player removed",
			zap.String("player", name),
			zap.String("unique", oldOwner))

		// The overlay goes offline with the player it was showing
		if wasActive {
			m.send(snapshot.FromMPRIS(snapshot.MPRISPayload{}))
		}

	case newOwner != "" && oldOwner != "":
		m.mu.Lock()
		delete(m.playerNames, oldOwner)
		m.playerNames[newOwner] = name
		m.mu.Unlock()
	}
}

// handleSignal processes a PropertiesChanged signal from a player
func (m *MprisMonitor) handleSignal(sig *dbus.Signal) {
	// Body: interface name, changed properties, invalidated properties
	if sig.Name != "org.freedesktop.DBus.Properties.PropertiesChanged" || len(sig.Body) < 2 {
		return
	}

	interfaceName, ok := sig.Body[0].(string)
	if !ok || interfaceName != "org.mpris.MediaPlayer2.Player" {
		return
	}

	changedProps, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	playerName := m.getPlayerName(sig.Sender)

	metadataVariant, hasMetadata := changedProps["Metadata"]
	statusVariant, hasStatus := changedProps["PlaybackStatus"]
	if !hasMetadata && !hasStatus {
		return
	}

	var metadata map[string]dbus.Variant
	var status string

	if hasMetadata {
		metadata, ok = metadataVariant.Value().(map[string]dbus.Variant)
		if !ok {
			m.logger.Warn("Invalid metadata format in signal, ignoring")
			return
		}
	}

	if hasStatus {
		status, ok = statusVariant.Value().(string)
		if !ok {
			m.logger.Warn("Invalid playback status format in signal, ignoring")
			return
		}
	} else if variant, err := m.conn.GetProperty(sig.Sender, mprisPath, propStatus); err == nil {
		status, _ = variant.Value().(string)
	}

	// Status-only change: the signal carries no metadata
	if !hasMetadata {
		if variant, err := m.conn.GetProperty(sig.Sender, mprisPath, propMetadata); err == nil {
			metadata, _ = variant.Value().(map[string]dbus.Variant)
		}
	}

	snap := snapshot.FromMPRIS(m.parseMetadata(metadata, status, m.position(sig.Sender)))
	m.emit(playerName, snap)

	if snap.Track != nil {
		m.logger.Debug("Player state changed",
			zap.String("player", playerName),
			zap.String("title", snap.Track.Title),
			zap.Bool("playing", snap.Playing))
	}
}

// emit records the reporting player as active and sends the snapshot.
// Players are keyed by well-known name so polling can address them.
func (m *MprisMonitor) emit(sender string, snap domain.PlayerSnapshot) {
	m.mu.Lock()
	// A paused player does not steal focus from a playing one
	if snap.Playing || m.active == "" || m.active == sender {
		m.active = sender
	}
	isActive := m.active == sender
	m.mu.Unlock()

	if isActive {
		m.send(snap)
	}
}

// send is non-blocking: the next poll supersedes a dropped snapshot
func (m *MprisMonitor) send(snap domain.PlayerSnapshot) {
	select {
	case m.events <- snap:
	default:
		m.logChannelFullWarning()
	}
}

// parseMetadata converts MPRIS metadata to a normalizer payload
func (m *MprisMonitor) parseMetadata(metadata map[string]dbus.Variant, status string, position *int64) snapshot.MPRISPayload {
	payload := snapshot.MPRISPayload{
		Status:   status,
		Position: position,
	}

	if metadata == nil {
		return payload
	}

	if v, ok := metadata["mpris:trackid"]; ok {
		switch id := v.Value().(type) {
		case dbus.ObjectPath:
			payload.TrackID = string(id)
		case string:
			payload.TrackID = id
		}
	}

	payload.URL = stringValue(metadata, "xesam:url")
	payload.Title = stringValue(metadata, "xesam:title")
	payload.Album = stringValue(metadata, "xesam:album")
	payload.ArtURL = stringValue(metadata, "mpris:artUrl")

	// Artist should be an array
	if artistVar, ok := metadata["xesam:artist"]; ok {
		switch artists := artistVar.Value().(type) {
		case []string:
			payload.Artists = artists
		case string:
			if artists != "" {
				payload.Artists = []string{artists}
			}
		default:
			// Some non-compliant players may use unexpected types
			m.logger.Debug("Unexpected artist type in metadata",
				zap.String("type", fmt.Sprintf("%T", artistVar.Value())))
		}
	}

	if v, ok := metadata["mpris:length"]; ok {
		payload.Length = asInt64(v.Value())
	}

	return payload
}

func stringValue(metadata map[string]dbus.Variant, key string) string {
	if v, ok := metadata[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

// asInt64 accepts the integer types players use for microsecond values
func asInt64(v any) *int64 {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case uint64:
		n = int64(x)
	case int32:
		n = int64(x)
	case uint32:
		n = int64(x)
	case int:
		n = int64(x)
	case float64:
		n = int64(x)
	default:
		return nil
	}
	return &n
}

// getPlayerName returns the well-known player name for a unique bus name
// Falls back to the unique name if no mapping exists
func (m *MprisMonitor) getPlayerName(uniqueName string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if wellKnown, ok := m.playerNames[uniqueName]; ok {
		return wellKnown
	}
	return uniqueName
}

// logChannelFullWarning logs a warning about channel being full, but rate-limited
// to avoid log spam during rapid track changes (e.g., fast skipping)
func (m *MprisMonitor) logChannelFullWarning() {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit to max one warning per 5 seconds
	const warningInterval = 5 * time.Second
	now := time.Now()

	if now.Sub(m.lastDropWarning) >= warningInterval {
		m.logger.Warn("Snapshot channel full, dropping player state")
		m.lastDropWarning = now
	}
}
