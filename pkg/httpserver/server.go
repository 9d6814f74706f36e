package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/paygate/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithListener serves on an existing listener instead of Config.Addr.
func WithListener(ln net.Listener) Option {
	return func(s *Server) { s.ln = ln }
}

// Server runs an http.Server until the context is cancelled or the process
// receives SIGINT/SIGTERM, then drains in-flight requests within ShutdownTimeout.
type Server struct {
	cfg Config
	log *slog.Logger
	ln  net.Listener
}

func New(cfg Config, opts ...Option) *Server {
	s := &Server{cfg: cfg, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until shutdown. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       s.cfg.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelError),
	}

	ln := s.ln
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", s.cfg.Addr); err != nil {
			return errors.Join(ErrStart, err)
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.InfoContext(ctx, "http server started", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Join(ErrStart, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(ErrShutdown, err)
	}
	s.log.Info("http server stopped")
	return nil
}
