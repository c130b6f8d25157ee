package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

const socketRequestTimeout = 30 * time.Second

// Server serves HTTP over a Unix domain socket rather than a TCP port, so
// access is scoped to whoever can reach the filesystem path.
type Server struct {
	socketPath string
	listener   net.Listener
	server     *http.Server
	mux        *http.ServeMux
	mu         sync.Mutex
	running    bool
}

// HealthResponse describes the daemon's health endpoint payload.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Workspace string `json:"workspace"`
}

// NewServer builds a server bound to socketPath; call Start to begin serving.
func NewServer(socketPath string) *Server {
	mux := http.NewServeMux()
	return &Server{
		socketPath: socketPath,
		mux:        mux,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  socketRequestTimeout,
			WriteTimeout: socketRequestTimeout,
		},
	}
}

// RegisterHandler wires handler to pattern on the server's mux.
func (s *Server) RegisterHandler(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// RegisterHandlerFunc wires handler to pattern on the server's mux.
func (s *Server) RegisterHandlerFunc(pattern string, handler http.HandlerFunc) {
	s.mux.HandleFunc(pattern, handler)
}

// Start binds the Unix socket and begins serving in the background. A stale
// socket file left behind by a previous, uncleanly-terminated run is removed
// first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("server already running")
	}

	listener, err := bindUnixSocket(s.socketPath)
	if err != nil {
		return err
	}

	s.listener = listener
	s.running = true

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			// Serve returning here just means the listener was torn down by Stop.
		}
	}()

	return nil
}

// bindUnixSocket removes any stale socket file at path, listens on it, and
// restricts its permissions to the owner.
func bindUnixSocket(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}

	return listener, nil
}

// Stop shuts the server down gracefully and removes its socket file. Calling
// Stop on a server that isn't running is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove socket: %w", err)
	}

	return nil
}

// IsRunning reports whether Start has succeeded without a following Stop.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SocketPath returns the Unix socket path this server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// WriteJSON encodes v as JSON and writes it with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error body of the form {"error": message}.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
