package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/jonathan/career-pipeline/internal/broadcast"
	"github.com/jonathan/career-pipeline/internal/pipeline"
	"github.com/jonathan/career-pipeline/internal/server/middleware"
	"github.com/jonathan/career-pipeline/internal/server/ratelimit"
	"github.com/jonathan/career-pipeline/internal/types"
)

// Engine is the run control surface the handlers drive
type Engine interface {
	Start(ctx context.Context, userID uuid.UUID, in pipeline.Inputs) (*types.RunRecord, *pipeline.Execution, error)
	Resume(ctx context.Context, runID uuid.UUID, in pipeline.ResumeInput) (*pipeline.ResumeResult, error)
	Status(ctx context.Context, runID uuid.UUID) (*types.RunRecord, error)
}

// Store answers the read-only listing endpoints
type Store interface {
	Ping(ctx context.Context) error
	ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.RunRecord, error)
	ListBenchmarks(ctx context.Context, runID uuid.UUID) ([]types.BenchmarkRecord, error)
	ListMatches(ctx context.Context, runID uuid.UUID) ([]types.MatchRecord, error)
	ListRoadmaps(ctx context.Context, runID uuid.UUID) ([]types.RoadmapRecord, error)
}

// Subscriber registers live channel connections
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, conn broadcast.Conn) error
	Unsubscribe(userID string, conn broadcast.Conn)
	// Close disconnects every subscriber. Called when the server shuts down.
	Close()
}

// Options wires a Server
type Options struct {
	Addr   string
	Engine Engine
	Store  Store
	Hub    Subscriber
	JWT    *JWTService
	Logger *slog.Logger
	// RateLimitPerHour caps starts and resumes per user; 0 disables
	RateLimitPerHour int
	// KeepAlive is the SSE comment interval; zero means 25s
	KeepAlive time.Duration
	// WriteTimeout bounds each write to a live channel; zero means 10s
	WriteTimeout time.Duration
}

// Server is the HTTP API
type Server struct {
	engine       Engine
	store        Store
	hub          Subscriber
	jwt          *JWTService
	logger       *slog.Logger
	validate     *validator.Validate
	limiter      *ratelimit.Limiter
	keepAlive    time.Duration
	writeTimeout time.Duration
	httpServer   *http.Server
}

// New creates a server and its routes
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	s := &Server{
		engine:       opts.Engine,
		store:        opts.Store,
		hub:          opts.Hub,
		jwt:          opts.JWT,
		logger:       logger,
		validate:     newValidator(),
		keepAlive:    keepAlive,
		writeTimeout: writeTimeout,
		limiter: ratelimit.NewLimiter(ratelimit.Config{
			Enabled:         opts.RateLimitPerHour > 0,
			Rules:           ratelimit.PipelineRules(opts.RateLimitPerHour),
			CleanupInterval: 10 * time.Minute,
		}),
	}

	auth := middleware.AuthMiddleware(s.jwt.AsTokenValidator())
	protected := func(h http.HandlerFunc) http.Handler {
		return auth(s.withRateLimit(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("POST /pipeline/start", protected(s.handleStart))
	mux.Handle("GET /pipeline/runs", protected(s.handleListRuns))
	mux.Handle("GET /pipeline/ws", protected(s.handleWebSocket))
	mux.Handle("GET /pipeline/events", protected(s.handleEvents))
	mux.Handle("GET /pipeline/{id}/status", protected(s.handleStatus))
	mux.Handle("GET /pipeline/{id}/result", protected(s.handleResult))
	mux.Handle("POST /pipeline/{id}/resume", protected(s.handleResume))
	mux.Handle("GET /pipeline/{id}/matches", protected(s.handleMatches))
	mux.Handle("GET /pipeline/{id}/benchmarks", protected(s.handleBenchmarks))
	mux.Handle("GET /pipeline/{id}/roadmap", protected(s.handleRoadmap))

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.withLogging(s.withCORS(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Live channel handlers return only once the hub closes their connection
	if s.hub != nil {
		s.httpServer.RegisterOnShutdown(s.hub.Close)
	}
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String())
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.limiter.Stop()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(shutdownCtx)
	<-errCh
	s.limiter.Stop()
	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// Close releases background resources without serving
func (s *Server) Close() {
	s.limiter.Stop()
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit throttles the run-starting endpoints per user
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientID(r)
		info := s.limiter.Allow(client, r.Method, r.URL.Path)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		}
		if !info.Allowed {
			retry := int(info.RetryAfter.Round(time.Second).Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
			s.logger.Warn("rate limit exceeded", "client", client, "path", r.URL.Path)
			s.errorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID prefers the authenticated user and falls back to the remote IP
func clientID(r *http.Request) string {
	if userID, err := middleware.GetUserID(r); err == nil {
		return userID.String()
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Flush supports SSE through the logging wrapper
func (r *statusRecorder) Flush() {
	_ = http.NewResponseController(r.ResponseWriter).Flush()
}

// Hijack supports the WebSocket upgrade through the logging wrapper
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start),
		)
	})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// errorFrom maps err to a status and writes it, logging server-side faults
func (s *Server) errorFrom(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.errorResponse(w, status, publicMessage(err))
}
