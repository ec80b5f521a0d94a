package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-session/internal/config"
	"github.com/example/ride-session/internal/docserver"
	"github.com/example/ride-session/internal/docstore"
	"github.com/example/ride-session/internal/logging"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel, "docstore")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backend", "backend", cfg.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      docserver.New(store, cfg.PublicURL, logger),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("docstore listening", "addr", cfg.HTTPAddr, "backend", cfg.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

// pingable is a backend whose connection can be checked and released.
type pingable interface {
	docstore.Versioned
	Ping(ctx context.Context) error
	Close() error
}

func openBackend(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (docstore.Versioned, func(), error) {
	var store pingable
	switch cfg.Backend {
	case config.BackendRedis:
		store = docstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
	case config.BackendPostgres:
		ps, err := docstore.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, nil, err
		}
		store = ps
	default:
		return docstore.NewMemoryStore(), func() {}, nil
	}

	if err := pingWithRetry(ctx, store, 5, 500*time.Millisecond); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("%s unreachable: %w", cfg.Backend, err)
	}
	if ps, ok := store.(*docstore.PostgresStore); ok && cfg.RunMigrations {
		if err := ps.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migration applied", "table", "session_documents")
	}
	return store, func() { _ = store.Close() }, nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// pingWithRetry waits for a backend to answer, doubling the delay between
// attempts.
func pingWithRetry(ctx context.Context, p pinger, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = p.Ping(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
