package main

import (
	"chat-relay/auth"
	"chat-relay/infrastructure/grpc/presencev1"
	"chat-relay/infrastructure/grpc/server"
	"chat-relay/infrastructure/httpapi"
	"chat-relay/infrastructure/storage"
	ws "chat-relay/infrastructure/websocket"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/database"
	grpc3 "github.com/mama165/sdk-go/grpc"
	"github.com/mama165/sdk-go/logs"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// Exit codes to provide meaningful status to the operating system or service manager (e.g., systemd).
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

const shutdownTimeout = 10 * time.Second

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	// 1. Configuration & Logger
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return exitConfig, fmt.Errorf("dotenv error: %w", err)
	}
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, err
	}

	logger := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. User directory (BadgerDB)
	db, err := badger.Open(buildBadgerOpts(config, logger, ctx))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		logger.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	if logger.Enabled(ctx, slog.LevelDebug) {
		endpoint := "/inspect"
		logger.Info("Debug Badger inspector available", "url", fmt.Sprintf("http://localhost:%d%s?prefix=user:", config.InspectPort, endpoint))
		database.StartDebugServer(db, config.InspectPort, endpoint, storage.InspectMapper)
	}

	// 3. Relay core
	clk := clock.New()
	identity := auth.NewJWTProvider(config.JWTSecret, config.JWTIssuer, clk)
	users := storage.NewUserRepository(db, logger, clk)
	supervisor := workers.NewSupervisor(logger, config.RestartInterval)

	orchestrator, err := runtime.NewOrchestrator(logger, clk, supervisor, users, config.Runtime())
	if err != nil {
		return exitConfig, fmt.Errorf("orchestrator error: %w", err)
	}
	metrics := observability.NewMetrics()
	orchestrator.Add(metrics)
	supervisor.Add(
		workers.NewHealthMonitoringWorker(logger, clk, metrics, config.MetricInterval),
		workers.NewChannelCapacityWorker(logger, clk, orchestrator.Queues(), metrics, config.MetricInterval),
	)

	// 4. HTTP: websocket, user listing, metrics
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(ctx, logger, clk, ws.HandlerConfig{
		Session:      config.Session(),
		ReadLimit:    ws.FrameReadLimit(config.MaxPayloadBytes),
		WriteTimeout: config.WriteTimeout,
	}, identity, orchestrator))
	mux.Handle("/api/users", httpapi.NewUsersHandler(logger, identity, users, orchestrator))
	mux.Handle("/metrics", metrics.Handler())
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 5. gRPC presence service
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GrpcPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpc3.UnaryLoggingInterceptor(logger),
			auth.UnaryAuthInterceptor(identity),
		))
	presencev1.RegisterPresenceServiceServer(grpcServer, server.NewPresenceServer(orchestrator))

	// 6. Run until a signal or the first failure
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting orchestrator...")
		return orchestrator.Start(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Starting gRPC server", "address", grpcAddress)
		for serviceName := range grpcServer.GetServiceInfo() {
			logger.Debug("gRPC exposed service", "name", serviceName)
		}
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		return shutdown(logger, httpServer, grpcServer, orchestrator)
	})

	if err := g.Wait(); err != nil {
		return exitRuntime, err
	}
	logger.Info("Program stopped cleanly")
	return exitOK, nil
}

// shutdown stops accepting traffic first, then the workers.
func shutdown(logger *slog.Logger, httpServer *http.Server, grpcServer *grpc.Server, orchestrator *runtime.Orchestrator) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs error
	if err := httpServer.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		grpcServer.Stop()
		errs = multierr.Append(errs, fmt.Errorf("grpc shutdown: %w", ctx.Err()))
	}
	orchestrator.Stop()
	if errs != nil {
		logger.Error("Shutdown incomplete", "error", errs)
	}
	return errs
}

func buildBadgerOpts(config internal.Config, logger *slog.Logger, ctx context.Context) badger.Options {
	options := badger.DefaultOptions(config.BadgerFilepath)

	if logger.Enabled(ctx, slog.LevelDebug) {
		options = options.WithLoggingLevel(badger.DEBUG)
	} else {
		options = options.WithLoggingLevel(badger.WARNING)
	}

	return options
}
