// Package web serves the local control API and pushes status snapshots to
// websocket clients.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/guidoenr/wavedream/internal/analyzer"
	"github.com/guidoenr/wavedream/internal/params"
	"github.com/guidoenr/wavedream/internal/sender"
)

// ErrSignalingDisabled is returned by controllers that do not accept WebRTC
// offers.
var ErrSignalingDisabled = errors.New("webrtc signaling disabled")

// Controller is the running pipeline as seen by the control surface.
type Controller interface {
	Status() Status
	Themes() []ThemeInfo
	SetTheme(id string, skipTransition bool) (resolved string, found bool)
	SetOverlay(text string, weight float64)
	SetDenoisingSteps(steps []int) error
	SetProfile(name string) error
	SetNormalization(p analyzer.PartialNormalization)
	MarkTransition(steps int)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error)
}

// Status is the snapshot served at /api/status and pushed over /ws.
type Status struct {
	Source         string                       `json:"source"`
	Degraded       bool                         `json:"degraded"`
	DegradedReason string                       `json:"degradedReason,omitempty"`
	Frames         uint64                       `json:"frames"`
	Metrics        analyzer.DerivedMetrics      `json:"metrics"`
	Beat           analyzer.BeatState           `json:"beat"`
	Normalization  analyzer.NormalizationConfig `json:"normalization"`
	Engine         params.EngineStatus          `json:"engine"`
	Sender         sender.Stats                 `json:"sender"`
	ChannelReady   bool                         `json:"channelReady"`
}

// ThemeInfo describes one loadable theme.
type ThemeInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Active bool   `json:"active"`
}

// Config configures a Server.
type Config struct {
	StatusRate float64
	Log        *log.Logger
}

type themeRequest struct {
	ID             string `json:"id"`
	SkipTransition bool   `json:"skipTransition"`
}

type overlayRequest struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

type stepsRequest struct {
	Steps []int `json:"steps"`
}

type transitionRequest struct {
	Steps int `json:"steps"`
}

type profileRequest struct {
	Profile string `json:"profile"`
}

// Server is the local control server.
type Server struct {
	ctrl     Controller
	log      *log.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocketClient]bool
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// NewServer returns a server for ctrl.
func NewServer(ctrl Controller, cfg Config) *Server {
	if cfg.StatusRate <= 0 {
		cfg.StatusRate = 10
	}
	if cfg.Log == nil {
		cfg.Log = log.New(io.Discard, "", 0)
	}
	return &Server{
		ctrl:     ctrl,
		log:      cfg.Log,
		interval: time.Duration(float64(time.Second) / cfg.StatusRate),
		clients:  make(map[*websocketClient]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/themes", s.handleThemes)
	mux.HandleFunc("POST /api/theme", s.handleTheme)
	mux.HandleFunc("POST /api/overlay", s.handleOverlay)
	mux.HandleFunc("POST /api/steps", s.handleSteps)
	mux.HandleFunc("POST /api/profile", s.handleProfile)
	mux.HandleFunc("POST /api/normalization", s.handleNormalization)
	mux.HandleFunc("POST /api/transition", s.handleTransition)
	mux.HandleFunc("POST /api/webrtc/offer", s.handleOffer)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return mux
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Printf("[web] control server on http://%s", ln.Addr())

	go s.statusLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleThemes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Themes())
}

func (s *Server) handleTheme(w http.ResponseWriter, r *http.Request) {
	var req themeRequest
	if !decode(w, r, &req) {
		return
	}
	resolved, found := s.ctrl.SetTheme(req.ID, req.SkipTransition)
	writeJSON(w, http.StatusOK, map[string]any{"theme": resolved, "found": found})
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	var req overlayRequest
	if !decode(w, r, &req) {
		return
	}
	s.ctrl.SetOverlay(req.Text, req.Weight)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSteps(w http.ResponseWriter, r *http.Request) {
	var req stepsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctrl.SetDenoisingSteps(req.Steps); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctrl.SetProfile(req.Profile); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNormalization(w http.ResponseWriter, r *http.Request) {
	var req analyzer.PartialNormalization
	if !decode(w, r, &req) {
		return
	}
	s.ctrl.SetNormalization(req)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTransition reserves the engine's transition lock for a crossfade the
// UI started on the renderer directly.
func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Steps <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("steps must be positive"))
		return
	}
	s.ctrl.MarkTransition(req.Steps)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer webrtc.SessionDescription
	if !decode(w, r, &offer) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	answer, err := s.ctrl.AcceptOffer(ctx, offer)
	if errors.Is(err, ErrSignalingDisabled) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("[web] websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 16),
		server: s,
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.Clients() == 0 {
			continue
		}
		data, err := json.Marshal(s.ctrl.Status())
		if err != nil {
			s.log.Printf("[web] encode status: %v", err)
			continue
		}
		s.broadcast(data)
	}
}

// broadcast queues data for every client, dropping clients that fall behind.
func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			close(client.send)
			delete(s.clients, client)
		}
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		close(client.send)
		delete(s.clients, client)
	}
}

func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		close(c.send)
		delete(s.clients, c)
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
