package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-annotator/internal/playback"
	"github.com/heimdex/heimdex-annotator/internal/realtime"
	"github.com/heimdex/heimdex-annotator/internal/session"
	"github.com/heimdex/heimdex-annotator/internal/submit"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port    int
	Session *session.Session
	Players *playback.Registry
	Hub     *realtime.Hub
	// Assets serves local video files. Nil disables /media.
	Assets *playback.AssetServer
	// Repository lists past submissions. May be nil.
	Repository submit.Repository
	// AllowedOrigins are extra exact origins allowed by CORS.
	AllowedOrigins []string
	// SubmitLimit caps submissions per minute per client; 0 means 10.
	SubmitLimit int
	Logger      *slog.Logger
	StartTime   time.Time
	InstanceID  string
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
