package internal

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"huddle/internal/presence"
	"huddle/internal/storage"
)

const (
	defaultTokenTTL         = 7 * 24 * time.Hour
	defaultSessionCacheSize = 4096
	defaultSessionCacheTTL  = time.Minute
	authRateLimit           = 10
	authRateWindow          = time.Minute
	storeTimeout            = 5 * time.Second
)

// Server glues the HTTP surface, the websocket hub and the presence engine
// together.
type Server struct {
	store       *storage.Store
	hub         *Hub
	engine      *presence.Engine
	sessions    *sessionCache
	authLimiter *RateLimiter
	tokenTTL    time.Duration
	logger      *slog.Logger
	metrics     *Metrics
	registry    *prometheus.Registry

	// closing is set by Shutdown; conns counts connections whose
	// disconnect cleanup has not finished.
	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

// ServerOptions configures NewServer. Zero values pick defaults.
type ServerOptions struct {
	Logger           *slog.Logger
	Registry         *prometheus.Registry
	ResolveTimeout   time.Duration
	TokenTTL         time.Duration
	SessionCacheSize int
	SessionCacheTTL  time.Duration
}

func NewServer(store *storage.Store, opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = defaultTokenTTL
	}
	if opts.SessionCacheSize <= 0 {
		opts.SessionCacheSize = defaultSessionCacheSize
	}
	if opts.SessionCacheTTL <= 0 {
		opts.SessionCacheTTL = defaultSessionCacheTTL
	}
	metrics := NewMetrics(opts.Registry)
	hub := NewHub(opts.Logger.With("component", "hub"), metrics)
	engine := presence.NewEngine(presence.Config{
		Resolver:       storeResolver{store: store},
		Publisher:      hub,
		Logger:         opts.Logger,
		Metrics:        presence.MustNewMetrics(opts.Registry),
		ResolveTimeout: opts.ResolveTimeout,
	})
	return &Server{
		store:       store,
		hub:         hub,
		engine:      engine,
		sessions:    newSessionCache(opts.SessionCacheSize, opts.SessionCacheTTL),
		authLimiter: NewRateLimiter(authRateLimit, authRateWindow),
		tokenTTL:    opts.TokenTTL,
		logger:      opts.Logger,
		metrics:     metrics,
		registry:    opts.Registry,
	}
}

// Engine exposes the presence engine for read-only queries.
func (s *Server) Engine() *presence.Engine {
	return s.engine
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Drain waits for queued presence fan-out to finish.
func (s *Server) Drain() {
	s.engine.Tracker.Wait()
}

// Shutdown closes every websocket connection, waits for their cleanup and
// drains the presence queues so the ledgers settle before the store closes.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.hub.CloseAll()
	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		s.Drain()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginConn reserves a slot in conns unless Shutdown has started. The
// caller must call conns.Done once the connection is cleaned up.
func (s *Server) beginConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// storeResolver answers membership lookups from the SQLite store.
type storeResolver struct {
	store *storage.Store
}

func (r storeResolver) GroupsForUser(ctx context.Context, user presence.UserID) ([]presence.GroupID, error) {
	ids, err := r.store.GroupIDsForUser(ctx, int64(user))
	if err != nil {
		return nil, err
	}
	groups := make([]presence.GroupID, 0, len(ids))
	for _, id := range ids {
		groups = append(groups, presence.GroupID(id))
	}
	return groups, nil
}
