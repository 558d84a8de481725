package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	intrnl "huddle/internal"
	"huddle/internal/storage"
)

const (
	shutdownTimeout    = 5 * time.Second
	sessionSweepPeriod = 10 * time.Minute
)

// ServerHandle represents a running HTTP/WebSocket server instance.
type ServerHandle struct {
	addr   string
	http   *http.Server
	server *intrnl.Server
	store  *storage.Store
	logger *slog.Logger
	group  *errgroup.Group
	cancel context.CancelFunc
}

// Addr returns the actual listen address (after the OS allocated a port).
func (h *ServerHandle) Addr() string {
	return h.addr
}

// Server exposes the wired server, mostly for tests.
func (h *ServerHandle) Server() *intrnl.Server {
	return h.server
}

// Stop triggers a graceful shutdown and waits for it to finish.
func (h *ServerHandle) Stop() error {
	if h == nil {
		return nil
	}
	h.cancel()
	return h.Wait()
}

// Wait blocks until the server exits and the store is closed.
func (h *ServerHandle) Wait() error {
	if h == nil {
		return nil
	}
	return h.group.Wait()
}

// RunServer opens the SQLite store, runs migrations and starts serving in
// the background. It shuts down when ctx is cancelled or Stop is called.
func RunServer(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*ServerHandle, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.WSPath = NormalizeWSPath(cfg.WSPath)

	if !isMemoryDSN(cfg.DBPath) {
		if err := os.MkdirAll(filepath.Dir(dbFilePath(cfg.DBPath)), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	server := intrnl.NewServer(store, intrnl.ServerOptions{
		Logger:           logger,
		Registry:         registry,
		ResolveTimeout:   cfg.ResolveTimeout,
		TokenTTL:         cfg.TokenTTL,
		SessionCacheSize: cfg.SessionCacheSize,
		SessionCacheTTL:  cfg.SessionCacheTTL,
	})

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	handle := &ServerHandle{
		addr:   listener.Addr().String(),
		http:   &http.Server{Handler: server.Router(cfg.WSPath), ReadHeaderTimeout: 10 * time.Second},
		server: server,
		store:  store,
		logger: logger,
		group:  group,
		cancel: cancel,
	}

	group.Go(func() error {
		err := handle.http.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-gctx.Done()
		return handle.shutdown()
	})
	group.Go(func() error {
		handle.sweepSessions(gctx, sessionSweepPeriod)
		return nil
	})

	logger.Info("server listening", "addr", handle.addr, "ws_path", cfg.WSPath, "db", cfg.DBPath)
	return handle, nil
}

func (h *ServerHandle) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	if err := h.http.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := h.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain presence: %w", err))
	}
	if err := h.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}
	h.logger.Info("server stopped")
	return errors.Join(errs...)
}

// sweepSessions deletes expired login sessions until ctx is done.
func (h *ServerHandle) sweepSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := h.store.DeleteExpiredSessions(ctx, now)
			if err != nil {
				if ctx.Err() == nil {
					h.logger.Warn("session sweep failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				h.logger.Debug("expired sessions removed", "count", removed)
			}
		}
	}
}

func isMemoryDSN(path string) bool {
	if strings.HasPrefix(path, ":memory:") {
		return true
	}
	_, query, _ := strings.Cut(path, "?")
	values, err := url.ParseQuery(query)
	return err == nil && values.Get("mode") == "memory"
}

// dbFilePath strips the scheme and query parameters from a DSN.
func dbFilePath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return path
}
