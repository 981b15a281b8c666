package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/born-ml/serve/internal/server"
	"github.com/born-ml/serve/internal/tensor"
)

func runServe(args []string) int {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	modelRepo := flags.String("model-repo", "", "servable repository root (required)")
	grpcAddr := flags.String("grpc-addr", "127.0.0.1:5500", "gRPC listen address")
	httpAddr := flags.String("http-addr", "127.0.0.1:5501", "HTTP listen address (empty disables)")
	device := flags.String("device", "cpu", "execution device: cpu|webgpu")
	maxBatchSize := flags.Int("max-batch-size", 8, "maximum cross-request batch size")
	batchWindow := flags.Duration("batch-window", 2*time.Millisecond, "batching window")
	queueSize := flags.Int("queue-size", 256, "dispatch queue size")
	watch := flags.Bool("watch", false, "reload servables on repository changes")
	logLevel := flags.String("log-level", "info", "log level: debug|info|warn|error")
	logFormat := flags.String("log-format", "json", "log format: json|console")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if *modelRepo == "" {
		fmt.Fprintln(os.Stderr, "born-serve serve: --model-repo is required")
		return 2
	}

	logger, err := buildLogger(*logFormat, *logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve serve: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	dev, err := tensor.ParseDevice(*device)
	if err != nil {
		fmt.Fprintf(os.Stderr, "born-serve serve: %v\n", err)
		return 2
	}

	srv, err := server.New(server.Config{
		ModelRepo: *modelRepo,
		GRPCAddr:  *grpcAddr,
		HTTPAddr:  *httpAddr,
		Device:    dev,
		Watch:     *watch,
		Batching: server.BatcherConfig{
			MaxBatchSize: *maxBatchSize,
			BatchWindow:  *batchWindow,
			QueueSize:    *queueSize,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	for _, info := range srv.Registry().List() {
		logger.Info("servable loaded",
			zap.String("servable", info.Name),
			zap.Int64s("versions", info.Versions),
			zap.Strings("methods", info.Methods))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("serve failed", zap.Error(err))
		return 1
	}
	return 0
}

func buildLogger(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	cfg.Level = lvl
	return cfg.Build()
}
