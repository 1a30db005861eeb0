// Package api serves the loopback operator API: session state, document
// upload, questions and view control.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pipetrace/agent/internal/session"
	"github.com/pipetrace/agent/internal/store"
)

// Session is the part of the orchestrator the API drives.
type Session interface {
	State() session.State
	Directives() session.Directives
	SubmitFile(ctx context.Context, path, declaredType string) error
	Ask(ctx context.Context, question string) (*session.Result, error)
	SwitchView(v session.ViewMode) error
	DismissResults()
	DismissNotice()
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port       int
	UploadDir  string
	Session    Session
	Repository store.Repository
	Logger     *slog.Logger
	StartTime  time.Time
	DeviceID   string
	Simulated  bool
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:        fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:     router,
			ReadTimeout: 60 * time.Second,
			// POST /ask holds the connection for the whole query animation.
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
