// Package web provides the HTTP API of the workbook ingestion service.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/sheetingest/internal/config"
	"github.com/JonMunkholm/sheetingest/internal/logging"
	"github.com/JonMunkholm/sheetingest/internal/web/middleware"
)

// errRateLimited is answered with 429.
var errRateLimited = errors.New("rate limit exceeded")

// Server is the HTTP server of the ingestion service.
type Server struct {
	service  Service
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a Server over service.
func NewServer(service Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(s.securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes. Ingest and reprocess run under
// the service's own timeout; the rest use the request timeout.
func (s *Server) setupRoutes() {
	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(&s.cfg.Security))

			r.Group(func(r chi.Router) {
				if s.cfg.Rate.Enabled {
					r.Use(s.newRateLimiter(s.cfg.Rate.IngestLimit, time.Minute).middleware)
				}
				r.Post("/workbooks", s.handleIngest)
				r.Post("/sheets/{id}/reprocess", s.handleReprocess)
			})

			r.Group(func(r chi.Router) {
				if s.cfg.Server.RequestTimeout > 0 {
					r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
				}

				r.Post("/preview", s.handlePreview)

				r.Get("/workbooks", s.handleListWorkbooks)
				r.Get("/workbooks/{id}", s.handleGetWorkbook)
				r.Delete("/workbooks/{id}", s.handleDeleteWorkbook)

				r.Get("/sheets/{id}", s.handleGetSheet)
				r.Get("/sheets/{id}/export", s.handleExportSheet)
				r.Get("/sheets/{id}/rows", s.handleListRows)
				r.Post("/sheets/{id}/rows", s.handleCreateRow)
				r.Get("/sheets/{id}/table", s.handleTableData)
				r.Get("/sheets/{id}/mapping", s.handleGetMapping)
				r.Put("/sheets/{id}/mapping", s.handleSetMapping)
				r.Post("/sheets/{id}/mapping/apply/{templateId}", s.handleApplyTemplate)

				r.Get("/rows/{id}", s.handleGetRow)
				r.Patch("/rows/{id}", s.handleUpdateRow)
				r.Delete("/rows/{id}", s.handleDeleteRow)
				r.Get("/rows/{id}/history", s.handleRowHistory)

				r.Get("/templates", s.handleListTemplates)
				r.Post("/templates", s.handleCreateTemplate)
				r.Get("/templates/match", s.handleMatchTemplates)
				r.Get("/templates/{id}", s.handleGetTemplate)
				r.Put("/templates/{id}", s.handleUpdateTemplate)
				r.Delete("/templates/{id}", s.handleDeleteTemplate)
			})
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	logging.FromContext(context.Background()).Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server and the limiter sweepers.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, l := range s.limiters {
		l.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a fixed-window token bucket per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
	done     chan struct{}
	once     sync.Once
	respond  func(http.ResponseWriter, *http.Request, error)
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a limiter of rate requests per window and starts
// its sweeper. Shutdown stops it.
func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		done:     make(chan struct{}),
		respond:  s.respondError,
	}
	s.limiters = append(s.limiters, rl)
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every window.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if time.Since(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

// allow consumes a token for ip if one is left.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	v, ok := rl.visitors[ip]
	if !ok || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return rl.rate > 0
	}
	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware rate limits by client IP. TrustedRealIP has already resolved
// RemoteAddr.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			rl.respond(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
