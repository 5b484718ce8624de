package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/harun/parley/internal/observability"
	"github.com/harun/parley/pkg/agent"
	"github.com/harun/parley/pkg/chat"
	"github.com/harun/parley/pkg/events"
	"github.com/harun/parley/pkg/session"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for open requests.
const DefaultShutdownTimeout = 10 * time.Second

// ChatService runs chat turns and reports on sessions.
type ChatService interface {
	Send(ctx context.Context, req chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req chat.Request, sink agent.Sink) (*chat.Response, error)
	SimpleMessage(ctx context.Context, sessionID, text string) (*chat.Response, error)
	SessionInfo(sessionID string) session.Info
	Stats() session.Stats
}

// Config holds server configuration.
type Config struct {
	Host            string
	Port            int
	PublicDir       string
	CORSOrigins     []string
	ShutdownTimeout time.Duration
	Chat            ChatService
	Hub             *events.Hub
	Logger          zerolog.Logger
}

// Server is the HTTP front door: chat endpoints, session inspection and
// the live event feed.
type Server struct {
	cfg      Config
	router   *chi.Mux
	chat     ChatService
	hub      *events.Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	started  time.Time

	// feeds ends open log streams when shutdown begins.
	feeds     context.Context
	stopFeeds context.CancelFunc

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates a server and wires its routes. It does not listen
// until Start is called.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("event hub is required")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	observability.EnsureRegistered()

	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		chat:   cfg.Chat,
		hub:    cfg.Hub,
		logger: cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS governs browsers; the feed is read-only
			},
		},
		started: time.Now(),
	}
	s.feeds, s.stopFeeds = context.WithCancel(context.Background())

	s.setupMiddleware()
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(traceRequests)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Trace-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpSrv != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: chat and log streams stay open.
	}
	s.httpSrv.RegisterOnShutdown(s.stopFeeds)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting HTTP server")

	srv := s.httpSrv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for open requests up to
// the configured timeout or until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		s.stopFeeds()
		return nil
	}

	s.logger.Info().Msg("Shutting down HTTP server")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Shutdown timeout reached, forcing close")
		_ = srv.Close()
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("HTTP server stopped")
	return nil
}
