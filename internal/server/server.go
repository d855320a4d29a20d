package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fllarpy/apm-demo/internal/logger"
)

// Server is an HTTP server bound to a single address that shuts down
// gracefully when its context ends.
type Server struct {
	name            string
	addr            string
	httpServer      *http.Server
	shutdownTimeout time.Duration
	log             *zap.Logger
}

// Options configures a Server.
type Options struct {
	Name              string
	Addr              string
	Handler           http.Handler
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Logger            *zap.Logger
}

// New builds a server; it does not listen yet.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":3000"
	}
	if opts.ReadHeaderTimeout <= 0 {
		opts.ReadHeaderTimeout = 5 * time.Second
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	if opts.Name == "" {
		opts.Name = "http"
	}
	log := logger.OrNop(opts.Logger).With(zap.String("server", opts.Name))
	return &Server{
		name: opts.Name,
		addr: opts.Addr,
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           opts.Handler,
			ReadHeaderTimeout: opts.ReadHeaderTimeout,
			ErrorLog:          zap.NewStdLog(log),
		},
		shutdownTimeout: opts.ShutdownTimeout,
		log:             log,
	}
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Listen binds the configured address without serving yet. Connections
// queue in the listener until Serve is called.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("%s server: listen on %s: %w", s.name, s.addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln until ctx is done. It then stops accepting,
// waits for in-flight requests (bounded by the shutdown timeout) and returns
// nil on a clean shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("HTTP server listening", zap.String("addr", ln.Addr().String()))

	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		shutdownDone <- s.httpServer.Shutdown(shutdownCtx)
	}()

	err := s.httpServer.Serve(ln)
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-shutdownDone; err != nil {
		s.log.Warn("HTTP server shutdown incomplete", zap.Error(err))
		return err
	}
	s.log.Info("HTTP server stopped")
	return nil
}
