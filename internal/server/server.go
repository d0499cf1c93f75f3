package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"deployhook/internal/auth"
	"deployhook/internal/deployment"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	// HTTP server timeouts
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 10 * time.Second
	HTTPIdleTimeout  = 60 * time.Second

	// Request timeout for middleware
	RequestTimeout = 30 * time.Second

	// ShutdownTimeout bounds how long in-flight HTTP requests may take to finish.
	ShutdownTimeout = 10 * time.Second
)

// Worker is what the HTTP layer needs from the deploy worker.
type Worker interface {
	HandleRequest(ctx context.Context, appName string, req *auth.Request) (*deployment.Request, error)
	AppNames() []string
	QueueState() deployment.QueueState
	Wait()
}

// Config tunes the server.
type Config struct {
	// RateLimit is the per-IP webhook budget per minute. 0 disables it.
	RateLimit int

	// TestMode disables rate limiting.
	TestMode bool

	BindRetries    int
	BindRetryDelay time.Duration

	// TrustedProxies are the peers whose X-Forwarded-For, X-Real-IP and
	// True-Client-IP headers replace the caller address. Empty trusts none.
	TrustedProxies []netip.Prefix
}

// Server represents the HTTP server
type Server struct {
	Worker Worker
	Logger *slog.Logger
	Config Config

	// handling tracks notifications still being passed to the worker after
	// their 202 was written.
	handling sync.WaitGroup
}

// New creates a new server instance
func New(worker Worker, logger *slog.Logger, cfg Config) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Worker: worker, Logger: logger, Config: cfg}
}

// Router creates and configures the HTTP router
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(trustedRealIP(s.Config.TrustedProxies))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))
	r.Use(requestLogger(s.Logger))

	r.Get("/health", s.HandleHealth)

	r.Group(func(r chi.Router) {
		if !s.Config.TestMode && s.Config.RateLimit > 0 {
			r.Use(NewWebhookRateLimitMiddleware(s.Config.RateLimit, s.Logger))
		}
		r.Post("/in/{appName}", s.HandleWebhook)
		r.Post("/", s.HandleWebhook)
	})

	return otelhttp.NewHandler(r, "deployhook.http")
}

// Serve binds addr (retrying while it is in use), serves until ctx is done,
// then shuts down gracefully and waits for queued deployments to finish.
func (s *Server) Serve(ctx context.Context, addr string) error {
	binder := &Binder{
		Retries: s.Config.BindRetries,
		Delay:   s.Config.BindRetryDelay,
		Logger:  s.Logger,
	}
	ln, err := binder.Bind(ctx, addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on an already bound listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Router(),
		ReadTimeout:  HTTPReadTimeout,
		WriteTimeout: HTTPWriteTimeout,
		IdleTimeout:  HTTPIdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.Logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		s.Logger.Info("server listening", "addr", ln.Addr().String())
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("http shutdown incomplete", "error", err)
	}

	s.Shutdown()
	return nil
}

// Shutdown waits for accepted notifications to reach the worker and for the
// deploy queue to drain.
func (s *Server) Shutdown() {
	s.handling.Wait()
	s.Logger.Info("waiting for queued deployments", "pending", s.Worker.QueueState().Pending)
	s.Worker.Wait()
}
