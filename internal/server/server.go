// Package server wires the HTTP and WebSocket transport in front of the room
// engine. Connections are accepted here and handed to their room for the rest
// of their lifetime.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"couchsync/internal/observability/logging"
)

// TLSConfig defines certificate and key paths for enabling TLS listeners.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

// Config controls the HTTP server runtime behaviour.
type Config struct {
	Addr   string
	TLS    TLSConfig
	Logger *slog.Logger
}

// Server hosts the REST API, the video endpoints, and the room WebSocket.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	tlsCertFile string
	tlsKeyFile  string
}

// New assembles the route table and middleware chain around the handler.
func New(handler *Handler, cfg Config) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/api/rooms", handler.Rooms)
	mux.HandleFunc("/api/rooms/", handler.RoomByID)

	chain := http.Handler(mux)
	chain = securityHeaders(chain)
	chain = logging.RequestLogger(cfg.Logger)(chain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return &Server{
		httpServer:  httpServer,
		logger:      cfg.Logger,
		tlsCertFile: cfg.TLS.CertFile,
		tlsKeyFile:  cfg.TLS.KeyFile,
	}
}

// HTTPServer exposes the underlying http.Server for the runtime runner.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// TLS reports the configured certificate and key paths.
func (s *Server) TLS() (certFile, keyFile string) {
	return s.tlsCertFile, s.tlsKeyFile
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := w.Header()
		header.Set("X-Content-Type-Options", "nosniff")
		header.Set("X-Frame-Options", "DENY")
		header.Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
