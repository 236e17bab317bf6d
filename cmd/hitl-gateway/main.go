package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/hitl-control-plane/app"
	"github.com/upb/hitl-control-plane/config"
	"github.com/upb/hitl-control-plane/internal/observability"
	"github.com/upb/hitl-control-plane/routes"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, logger, nil); err != nil {
		logger.Fatal("gateway exited with error", zap.Error(err))
	}
}

// run serves until ctx is cancelled, then drains in-flight requests and
// notifications. ready, when non-nil, receives the bound address.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, ready chan<- string) error {
	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := deps.Start(ctx); err != nil {
		_ = deps.Close(context.Background())
		return err
	}

	server := newServer(cfg, routes.SetupRoutes(deps))

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		_ = deps.Close(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hitl-gateway listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("environment", cfg.Environment))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if ready != nil {
		ready <- ln.Addr().String()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case serveErr = <-errCh:
		logger.Error("server crashed", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("dependency shutdown failed", zap.Error(err))
	}

	logger.Info("server exited")
	return serveErr
}

func newServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}
}
