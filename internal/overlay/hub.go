// Package overlay pushes render commands to browser overlay clients over
// websockets and serves the committed cover art.
package overlay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
	maxReport    = 4096
)

// ContainerSetter receives viewport width reports
type ContainerSetter interface {
	SetContainer(region domain.Region, width float64) bool
}

type storedLayer struct {
	image    []byte
	backdrop []byte
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub is the Presenter seen by the engine. Every command is broadcast to
// connected clients and kept as the latest state of its slot so late
// joiners get a full replay. Safe for concurrent use.
type Hub struct {
	logger   *zap.Logger
	measurer ContainerSetter
	upgrader websocket.Upgrader
	resizes  chan struct{}

	mu      sync.Mutex
	clients map[string]*client
	state   map[string][]byte
	layers  map[uint64]storedLayer
	closed  bool
}

// NewHub creates an overlay hub
func NewHub(logger *zap.Logger, measurer ContainerSetter) *Hub {
	return &Hub{
		logger:   logger,
		measurer: measurer,
		upgrader: websocket.Upgrader{
			// Overlay pages are served from OBS browser sources with arbitrary origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		resizes: make(chan struct{}, 1),
		clients: make(map[string]*client),
		state:   make(map[string][]byte),
		layers:  make(map[uint64]storedLayer),
	}
}

// Resizes signals when a client reported a changed container width
func (h *Hub) Resizes() <-chan struct{} {
	return h.resizes
}

func (h *Hub) SetText(region domain.Region, text string) {
	h.publish("text:"+string(region), OpText, textData{Region: string(region), Text: text})
}

func (h *Hub) SetFlag(flag domain.Flag, on bool) {
	h.publish("flag:"+string(flag), OpFlag, flagData{Flag: string(flag), On: on})
}

func (h *Hub) SetMarquee(region domain.Region, m domain.Marquee) {
	h.publish("marquee:"+string(region), OpMarquee, marqueeData{
		Region:   string(region),
		Enabled:  m.Enabled,
		Distance: m.Distance,
		Duration: m.Duration.Seconds(),
	})
}

func (h *Hub) SetBlur(radius float64) {
	h.publish("blur", OpBlur, blurData{Radius: finiteOr(radius, 0)})
}

func (h *Hub) SetProgress(current, total float64) {
	h.publish("progress", OpProgress, progressData{
		Current: finiteOr(current, 0),
		Total:   finiteOr(total, 0),
	})
}

func (h *Hub) SetClock(elapsed, total string) {
	h.publish("clock", OpClock, clockData{Elapsed: elapsed, Total: total})
}

// AddArtLayer stores the layer bytes for the HTTP handlers and announces
// the layer. It stays in the replay state until retired.
func (h *Hub) AddArtLayer(layer domain.ArtLayer) {
	data := artData{ID: layer.ID, Image: artPath(layer.ID), Source: layer.SourceURL}
	if len(layer.Backdrop) > 0 {
		data.Backdrop = backdropPath(layer.ID)
	}

	h.mu.Lock()
	h.layers[layer.ID] = storedLayer{image: layer.Image, backdrop: layer.Backdrop}
	h.mu.Unlock()

	h.publish(layerSlot(layer.ID), OpArt, data)
}

// RetireLayer drops a faded-out layer and its bytes
func (h *Hub) RetireLayer(id uint64) {
	msg, err := encode(OpRetire, retireData{ID: id})
	if err != nil {
		h.logger.Error("Failed to encode command", zap.String("op", OpRetire), zap.Error(err))
		return
	}

	h.mu.Lock()
	delete(h.layers, id)
	delete(h.state, layerSlot(id))
	h.broadcastLocked(msg)
	h.mu.Unlock()
}

func (h *Hub) SetWaveform(levels []float64) {
	clean := make([]float64, len(levels))
	for i, v := range levels {
		clean[i] = finiteOr(v, 0)
	}
	h.publish("waveform", OpWaveform, waveformData{Levels: clean})
}

// Zero-padded so layers replay in creation order
func layerSlot(id uint64) string {
	return fmt.Sprintf("layer:%020d", id)
}

func encode(op string, data any) ([]byte, error) {
	return json.Marshal(Command{Op: op, Data: data})
}

func (h *Hub) publish(slot, op string, data any) {
	msg, err := encode(op, data)
	if err != nil {
		h.logger.Error("Failed to encode command", zap.String("op", op), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.state[slot] = msg
	h.broadcastLocked(msg)
}

func (h *Hub) broadcastLocked(msg []byte) {
	for id, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			// Slow client; it reconnects and gets a replay
			h.logger.Warn("Overlay client too slow, dropping", zap.String("client", id))
			h.dropLocked(c)
		}
	}
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
}

// ClientCount returns the number of connected overlay clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades an overlay connection and replays the current state
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxReport)

	c := &client{id: uuid.NewString(), conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c.id] = c
	// Replay fits the buffer: slots are bounded by regions, flags and live layers
	for _, msg := range h.replayLocked() {
		select {
		case c.send <- msg:
		default:
		}
	}
	h.mu.Unlock()

	h.logger.Info("Overlay client connected",
		zap.String("client", c.id),
		zap.String("remote", r.RemoteAddr))

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) replayLocked() [][]byte {
	slots := make([]string, 0, len(h.state))
	for slot := range h.state {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	out := make([][]byte, 0, len(slots))
	for _, slot := range slots {
		out = append(out, h.state[slot])
	}
	return out
}

func (h *Hub) writePump(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("Overlay write failed", zap.String("client", c.id), zap.Error(err))
			// Unblock readPump
			_ = c.conn.Close()
			for range c.send {
			}
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.mu.Lock()
		h.dropLocked(c)
		h.mu.Unlock()
		h.logger.Info("Overlay client disconnected", zap.String("client", c.id))
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleReport(c.id, data)
	}
}

func (h *Hub) handleReport(clientID string, data []byte) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		h.logger.Debug("Dropping malformed report", zap.String("client", clientID), zap.Error(err))
		return
	}
	if rep.Op != OpViewport || h.measurer == nil {
		return
	}

	if h.measurer.SetContainer(domain.Region(rep.Region), rep.Width) {
		select {
		case h.resizes <- struct{}{}:
		default:
		}
	}
}

// Layer returns stored bytes for a live layer
func (h *Hub) Layer(id uint64) (image, backdrop []byte, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.layers[id]
	return l.image, l.backdrop, ok
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.dropLocked(c)
	}
}
