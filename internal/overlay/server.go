package overlay

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/genricoloni/nowplaying/internal/config"
	"go.uber.org/zap"
)

//go:embed web/index.html
var indexHTML []byte

// Server exposes the hub and the art bytes over HTTP
type Server struct {
	logger *zap.Logger
	hub    *Hub
	bind   string

	listener net.Listener
	server   *http.Server
}

// NewServer creates the overlay HTTP server
func NewServer(logger *zap.Logger, cfg *config.AppConfig, hub *Hub) *Server {
	s := &Server{
		logger: logger,
		hub:    hub,
		bind:   cfg.Listen,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", hub.ServeWS)
	mux.HandleFunc("GET /art/{id}", s.handleLayer(false))
	mux.HandleFunc("GET /backdrop/{id}", s.handleLayer(true))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.bind)
	if err != nil {
		return fmt.Errorf("overlay listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Overlay server error", zap.Error(err))
		}
	}()

	s.logger.Info("Overlay server listening", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop disconnects clients and shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	if s.listener == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("overlay shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleLayer(backdrop bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid layer id", http.StatusBadRequest)
			return
		}

		img, bd, ok := s.hub.Layer(id)
		data := img
		if backdrop {
			data = bd
		}
		if !ok || len(data) == 0 {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	}
}
