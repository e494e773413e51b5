package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/hncpd/hncpd/pkg/hncp"
)

// RuntimeInfo provides the daemon server with access to the running
// engine. This interface decouples the daemon package from the
// cmd/hncpd daemon command's own runtime struct.
type RuntimeInfo interface {
	Engine() *hncp.Engine
	ConfigFile() string
	Version() string
	StartTime() time.Time
}

// Server is the daemon's Unix socket HTTP control API server.
type Server struct {
	runtime    RuntimeInfo
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	cookiePath string
	authToken  string
	version    string
	shutdownCh chan struct{} // closed to signal shutdown to the daemon main loop

	// Optional observability (nil when telemetry disabled)
	metrics *hncp.Metrics
	audit   *AuditLogger
}

// NewServer creates a new daemon API server.
func NewServer(runtime RuntimeInfo, socketPath, cookiePath, version string) *Server {
	return &Server{
		runtime:    runtime,
		socketPath: socketPath,
		cookiePath: cookiePath,
		version:    version,
		shutdownCh: make(chan struct{}),
	}
}

// SetInstrumentation configures optional metrics and audit logging.
// Must be called before Start(). Both parameters are nil-safe.
func (s *Server) SetInstrumentation(metrics *hncp.Metrics, audit *AuditLogger) {
	s.metrics = metrics
	s.audit = audit
}

// ShutdownCh returns a channel that is closed when a shutdown is requested
// via the API (POST /v1/shutdown).
func (s *Server) ShutdownCh() <-chan struct{} {
	return s.shutdownCh
}

// Start creates the Unix socket, writes the cookie file, and starts serving.
// It returns immediately - the server runs in a background goroutine.
func (s *Server) Start() error {
	token, err := generateCookie()
	if err != nil {
		return fmt.Errorf("failed to generate auth cookie: %w", err)
	}
	s.authToken = token

	if err := s.checkStaleSocket(); err != nil {
		return err
	}

	// Bind Unix socket with restrictive umask to avoid TOCTOU race.
	// Setting umask(0077) ensures the socket is created owner-only (0700)
	// atomically, so there is no window in which other users can reach it.
	oldUmask := unix.Umask(0077)
	listener, err := net.Listen("unix", s.socketPath)
	unix.Umask(oldUmask)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// Write cookie AFTER the socket is secured - prevents clients from
	// reading the cookie before the socket is ready to accept
	// authenticated connections.
	if err := os.WriteFile(s.cookiePath, []byte(token), 0600); err != nil {
		listener.Close()
		os.Remove(s.socketPath)
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	slog.Info("daemon cookie written", "path", s.cookiePath)

	s.listener = listener

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	limited := RateLimitHandler(mux, rate.NewLimiter(defaultRateLimit, defaultRateBurst))
	s.httpServer = &http.Server{
		Handler:      InstrumentHandler(s.authMiddleware(limited), s.metrics, s.audit),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("daemon server error", "error", err)
		}
	}()

	slog.Info("daemon API listening", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the HTTP server and cleans up the socket and
// cookie files.
func (s *Server) Stop() {
	slog.Info("daemon server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)

	os.Remove(s.socketPath)
	os.Remove(s.cookiePath)
	slog.Info("daemon server stopped")
}

// checkStaleSocket checks if a daemon is already running on the socket.
// If the socket exists but no daemon is listening, it removes the stale
// socket.
func (s *Server) checkStaleSocket() error {
	if _, err := os.Stat(s.socketPath); os.IsNotExist(err) {
		return nil
	}

	conn, err := net.DialTimeout("unix", s.socketPath, 2*time.Second)
	if err != nil {
		slog.Info("removing stale daemon socket", "path", s.socketPath)
		os.Remove(s.socketPath)
		return nil
	}

	conn.Close()
	return fmt.Errorf("%w: socket %s is already in use", ErrDaemonAlreadyRunning, s.socketPath)
}

// generateCookie creates a 32-byte random hex token.
func generateCookie() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// authMiddleware checks the Authorization: Bearer <token> header on every
// request.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		expected := "Bearer " + s.authToken

		if auth != expected {
			respondError(w, http.StatusUnauthorized, "unauthorized: invalid or missing auth token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// SocketPath returns the path to the Unix socket.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Listener returns the underlying net.Listener (for health checks).
func (s *Server) Listener() net.Listener {
	return s.listener
}
