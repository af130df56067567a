// Package api exposes a small local control surface over HTTP and
// WebSocket. A UI or script can read relay status, change the toggle
// hotkey, drive the target's scan and reconnect flow and subscribe to
// state and log pushes. It binds loopback by default; there is no
// authentication, this is an operator-local endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Status is the snapshot served to clients.
type Status struct {
	Role         string `json:"role"`
	ConnState    string `json:"conn_state"`
	ControlState string `json:"control_state,omitempty"`
	Peer         string `json:"peer,omitempty"`
	Hotkey       string `json:"hotkey,omitempty"`
}

// Backend is what the server controls. Each role implements the full
// interface and returns an error for the operations the other role owns:
// the target rejects hotkey changes, the controller rejects scan and
// connection management.
type Backend interface {
	Status() Status
	SetHotkey(hotkey string) error
	Scan() (string, error)
	Connect(addr string) error
	Disconnect() error
}

// Message is one WebSocket push or command.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Server serves the control endpoints and owns the WebSocket hub.
type Server struct {
	backend Backend
	logger  *zap.Logger
	hub     *hub
	httpSrv *http.Server
}

func NewServer(backend Backend, logger *zap.Logger) *Server {
	s := &Server{
		backend: backend,
		logger:  logger,
	}
	s.hub = newHub(s, logger)
	return s
}

// Start binds addr and serves in the background. tcp4 avoids the
// IPv6-only binding Windows sometimes picks for unqualified addresses.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/hotkey", s.handleHotkey)
	mux.HandleFunc("/ws", s.hub.handleUpgrade)

	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return errors.New("api: failed to listen on " + addr + ": " + err.Error())
	}

	go s.hub.run()

	s.httpSrv = &http.Server{Handler: s.recoverMiddleware(mux)}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control api stopped", zap.Error(err))
		}
	}()

	s.logger.Info("control api listening", zap.String("addr", addr))
	return nil
}

// Stop shuts the HTTP server and the hub down.
func (s *Server) Stop() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpSrv.Shutdown(ctx)
	}
	s.hub.stop()
}

// Publish pushes an event to every connected WebSocket client.
func (s *Server) Publish(msgType string, payload any) {
	s.hub.publish(msgType, payload)
}

// PublishStatus pushes the full current snapshot.
func (s *Server) PublishStatus() {
	s.Publish("status", s.backend.Status())
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("handler panic", zap.Any("panic", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.backend.Status())
}

// handleHotkey handles POST /api/hotkey with {"hotkey": "ctrl+alt+z"}.
func (s *Server) handleHotkey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Hotkey string `json:"hotkey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.backend.SetHotkey(req.Hotkey); err != nil {
		s.logger.Warn("hotkey change rejected", zap.String("hotkey", req.Hotkey), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Info("hotkey changed", zap.String("hotkey", req.Hotkey))
	s.PublishStatus()
	writeJSON(w, map[string]string{"status": "ok", "hotkey": req.Hotkey})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
