package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/born-ml/serve/internal/backend"
	"github.com/born-ml/serve/internal/servable"
	"github.com/born-ml/serve/internal/tensor"
)

// Config holds everything needed to bring up a serving process.
type Config struct {
	// ModelRepo is the servable repository root directory.
	ModelRepo string

	// GRPCAddr and HTTPAddr are the listen addresses. An empty HTTPAddr
	// disables the JSON surface.
	GRPCAddr string
	HTTPAddr string

	// Device selects the execution backend for all servables.
	Device tensor.Device

	// Watch reloads servables when the repository changes on disk.
	Watch bool

	// Batching configures the cross-request batcher. The OnBatch hook is
	// owned by the server and must be left nil.
	Batching BatcherConfig

	// ShutdownTimeout bounds graceful shutdown. Zero means 10 seconds.
	ShutdownTimeout time.Duration

	Logger *zap.Logger
}

// Server hosts the gRPC and HTTP serving surfaces over one registry.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	registry *servable.Registry
	watcher  *servable.Watcher
	batcher  *Batcher
	metrics  *Metrics
	service  *Service
	grpcSrv  *grpc.Server
	httpSrv  *http.Server
}

// New loads the servable repository and wires the serving stack. The
// server does not listen until Serve is called.
func New(cfg Config) (*Server, error) {
	if cfg.ModelRepo == "" {
		return nil, errors.New("server: model repository is required")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("server: gRPC address is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	be, err := backend.ForDevice(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	registry, err := servable.Open(cfg.ModelRepo, be, servable.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("server: open model repository: %w", err)
	}

	metrics := NewMetrics()
	batchCfg := cfg.Batching
	batchCfg.Logger = logger
	batchCfg.OnBatch = func(key batchKey, batchSize int, queueWait, inferenceTime time.Duration, err error) {
		metrics.recordBatch(key.servable, key.method, batchSize, queueWait, inferenceTime)
	}
	batcher, err := NewBatcher(batchCfg)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		batcher:  batcher,
		metrics:  metrics,
	}
	s.service = NewService(registry, batcher, metrics, logger)

	s.grpcSrv = grpc.NewServer()
	s.grpcSrv.RegisterService(&ServiceDesc, s.service)

	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		NewHTTPService(s.service, metrics, logger).RegisterRoutes(mux)
		s.httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	if cfg.Watch {
		watcher, err := servable.Watch(registry, servable.WithWatchLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("server: watch model repository: %w", err)
		}
		s.watcher = watcher
	}

	return s, nil
}

// Registry exposes the loaded servables, mainly for tests and the CLI.
func (s *Server) Registry() *servable.Registry { return s.registry }

// Serve listens on the configured addresses and blocks until ctx is
// canceled or a listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.batcher.Start()

	grpcLis, err := net.Listen("tcp", s.cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("server: listen grpc: %w", err)
	}
	s.logger.Info("grpc listening", zap.String("addr", grpcLis.Addr().String()))

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.grpcSrv.Serve(grpcLis)
	}()

	if s.httpSrv != nil {
		httpLis, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			s.grpcSrv.Stop()
			return fmt.Errorf("server: listen http: %w", err)
		}
		s.logger.Info("http listening", zap.String("addr", httpLis.Addr().String()))
		go func() {
			if err := s.httpSrv.Serve(httpLis); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
				return
			}
			errCh <- nil
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.Close()
	case err := <-errCh:
		closeErr := s.Close()
		return multierr.Append(err, closeErr)
	}
}

// Close stops the listeners, the watcher, and the batcher. Safe to call
// after Serve returns.
func (s *Server) Close() error {
	var errs error

	if s.watcher != nil {
		errs = multierr.Append(errs, s.watcher.Close())
		s.watcher = nil
	}

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		errs = multierr.Append(errs, s.httpSrv.Shutdown(ctx))
		cancel()
		s.httpSrv = nil
	}

	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.grpcSrv.Stop()
	}

	s.batcher.Stop()
	return errs
}
