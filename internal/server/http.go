package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/teemow/inboxbell/internal/instrumentation"
	"github.com/teemow/inboxbell/internal/notify"
	"github.com/teemow/inboxbell/internal/pdftext"
	"github.com/teemow/inboxbell/internal/summarize"
)

const (
	// DefaultHTTPAddr is the front door listen address.
	DefaultHTTPAddr = ":5000"

	// DefaultHTTPWriteTimeout covers the slowest command reply, which makes
	// several bounded mailbox and summarization calls in a row.
	DefaultHTTPWriteTimeout = 2 * time.Minute

	// DefaultIOTimeout bounds each mailbox and summarization call of the mailbox routes.
	DefaultIOTimeout = 30 * time.Second
)

// WebhookAdmin manages the bot's webhook registration.
type WebhookAdmin interface {
	SetWebhook(url string) (*tgbotapi.APIResponse, error)
	DeleteWebhook() (*tgbotapi.APIResponse, error)
	WebhookInfo() (tgbotapi.WebhookInfo, error)
}

// ReadPDFFunc extracts the text of the first maxPages pages; 0 reads all pages.
type ReadPDFFunc func(data []byte, maxPages int) (pdftext.Document, error)

// HTTPServerConfig configures the front door.
type HTTPServerConfig struct {
	Addr string

	// Notifier delivers command replies and the login confirmation. Required.
	Notifier notify.Notifier

	// Webhooks enables the /telegram admin routes when set.
	Webhooks WebhookAdmin

	// RateLimiter limits the /auth, /telegram and mailbox routes per client IP. Nil disables it.
	RateLimiter *RateLimiter

	// Summarizer backs /summarize and /pdfsum. Nil makes them report that
	// summarization is not configured.
	Summarizer summarize.Summarizer

	// ReadPDF defaults to pdftext.Read.
	ReadPDF ReadPDFFunc

	WriteTimeout time.Duration
	IOTimeout    time.Duration

	Metrics *instrumentation.Metrics
	Logger  *slog.Logger
}

// HTTPServer is the public front door: OAuth login, the Telegram webhook,
// webhook administration, the mailbox routes and health checks.
type HTTPServer struct {
	sc         *ServerContext
	health     *HealthChecker
	notifier   notify.Notifier
	webhooks   WebhookAdmin
	limiter    *RateLimiter
	summarizer summarize.Summarizer
	readPDF    ReadPDFFunc
	metrics    *instrumentation.Metrics
	logger     *slog.Logger

	addr         string
	writeTimeout time.Duration
	ioTimeout    time.Duration
	handler      http.Handler

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewHTTPServer builds the front door routes around sc.
func NewHTTPServer(sc *ServerContext, cfg HTTPServerConfig) (*HTTPServer, error) {
	if sc == nil {
		return nil, fmt.Errorf("server context is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultHTTPAddr
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultHTTPWriteTimeout
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.ReadPDF == nil {
		cfg.ReadPDF = pdftext.Read
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &HTTPServer{
		sc:           sc,
		health:       NewHealthChecker(sc),
		notifier:     cfg.Notifier,
		webhooks:     cfg.Webhooks,
		limiter:      cfg.RateLimiter,
		summarizer:   cfg.Summarizer,
		readPDF:      cfg.ReadPDF,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		addr:         cfg.Addr,
		writeTimeout: cfg.WriteTimeout,
		ioTimeout:    cfg.IOTimeout,
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the fully wrapped route table.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health state, so callers can flip readiness during shutdown.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Start binds the address and serves until Shutdown. It returns nil after a
// clean shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not ready and drains open requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)

	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Addr returns the bound address once started, otherwise the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency labelled by route pattern,
// which keeps the path label bounded.
func (s *HTTPServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, time.Since(start))
	})
}

// securityHeaders sets the headers every browser-facing response carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) limit(h http.Handler) http.Handler {
	if s.limiter == nil {
		return h
	}
	return s.limiter.Middleware(h)
}
